package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/spf13/cobra"

	"github.com/kafkatools/msk-iam-auth/credstore"
	"github.com/kafkatools/msk-iam-auth/mskiam"
	"github.com/kafkatools/msk-iam-auth/sts"
)

// envCmd represents the env command
var envCmd = &cobra.Command{
	Use:     "env",
	Short:   "env assumes the configured role and prints export commands for the temporary credentials",
	Example: "  source <(msk-iam-auth env --role-arn arn:aws:iam::123456789012:role/msk-client)",
	RunE:    envRun,
}

func printExport(varName, varValue string) {
	exportString := "export %s=%s\n"
	myShell, hasShell := os.LookupEnv("SHELL")
	if hasShell && strings.Contains(myShell, "fish") {
		exportString = "set -x %s %s\n"
	}
	fmt.Printf(exportString, varName, varValue)
}

func init() {
	RootCmd.AddCommand(envCmd)
}

func envRun(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return ErrTooManyArguments
	}

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	if !cfg.UseSTS {
		return fmt.Errorf("env requires --role-arn; without a role there is nothing to exchange")
	}

	client, err := sts.NewClient(&sts.ClientOptions{
		Endpoint:  cfg.STSEndpoint,
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		return err
	}

	duration := cfg.DurationSeconds
	if duration == 0 {
		duration = mskiam.DefaultDurationSeconds
	}
	cred, err := client.AssumeRole(context.Background(), credstore.Credential{
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Region:          cfg.Region,
	}, sts.AssumeRoleInput{
		RoleARN:         cfg.RoleARN,
		RoleSessionName: cfg.RoleSessionName,
		ExternalID:      cfg.ExternalID,
		DurationSeconds: duration,
	})
	if err != nil {
		return err
	}

	printExport("AWS_ACCESS_KEY_ID", shellescape.Quote(cred.AccessKeyID))
	printExport("AWS_SECRET_ACCESS_KEY", shellescape.Quote(cred.SecretAccessKey))
	printExport("AWS_DEFAULT_REGION", shellescape.Quote(cred.Region))
	printExport("AWS_REGION", shellescape.Quote(cred.Region))

	if cred.SecurityToken != "" {
		printExport("AWS_SESSION_TOKEN", shellescape.Quote(cred.SecurityToken))
		printExport("AWS_SECURITY_TOKEN", shellescape.Quote(cred.SecurityToken))
	}

	return nil
}
