// Package cmd implements the msk-iam-auth command line: utilities for
// inspecting SASL/AWS_MSK_IAM payloads and for running the STS AssumeRole
// exchange outside of a Kafka client.
package cmd

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Errors returned from frontend commands
var (
	ErrTooManyArguments = errors.New("too many arguments")
	ErrTooFewArguments  = errors.New("too few arguments")
)

// global flags
var (
	debug   bool
	profile string

	flagAccessKeyID     string
	flagSecretAccessKey string
	flagSecurityToken   string
	flagRegion          string

	flagRoleARN         string
	flagRoleSessionName string
	flagExternalID      string
	flagDurationSeconds int
	flagSTSEndpoint     string
)

var version = "dev"

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:              "msk-iam-auth",
	Short:            "msk-iam-auth signs SASL/AWS_MSK_IAM payloads and exchanges credentials through STS",
	SilenceUsage:     true,
	SilenceErrors:    true,
	PersistentPreRun: prerun,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once
// to the RootCmd.
func Execute(vers string) {
	if vers != "" {
		version = vers
	}
	RootCmd.Version = version

	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		switch err {
		case ErrTooFewArguments, ErrTooManyArguments:
			RootCmd.Usage()
		}
		os.Exit(1)
	}
}

func prerun(cmd *cobra.Command, args []string) {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	RootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "default", "Profile in the shared AWS credentials file")
	RootCmd.PersistentFlags().StringVar(&flagAccessKeyID, "access-key-id", "", "AWS access key id (overrides env and credentials file)")
	RootCmd.PersistentFlags().StringVar(&flagSecretAccessKey, "secret-access-key", "", "AWS secret access key (overrides env and credentials file)")
	RootCmd.PersistentFlags().StringVar(&flagSecurityToken, "security-token", "", "AWS session token to send alongside static credentials")
	RootCmd.PersistentFlags().StringVar(&flagRegion, "region", "", "AWS region of the cluster")
	RootCmd.PersistentFlags().StringVar(&flagRoleARN, "role-arn", "", "Role to assume through STS before authenticating")
	RootCmd.PersistentFlags().StringVar(&flagRoleSessionName, "role-session-name", "", "Session name for the assumed role")
	RootCmd.PersistentFlags().StringVar(&flagExternalID, "external-id", "", "External id for the AssumeRole call (optional)")
	RootCmd.PersistentFlags().IntVar(&flagDurationSeconds, "duration-seconds", 0, "Requested lifetime of exchanged credentials")
	RootCmd.PersistentFlags().StringVar(&flagSTSEndpoint, "sts-endpoint", "", "STS endpoint host (defaults to the global endpoint)")
}
