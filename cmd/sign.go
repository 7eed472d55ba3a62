package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kafkatools/msk-iam-auth/mskiam"
)

var signTimeout time.Duration

// signCmd represents the sign command
var signCmd = &cobra.Command{
	Use:     "sign <broker-host>",
	Short:   "sign prints the SASL/AWS_MSK_IAM client-first message for a broker host",
	Example: "  msk-iam-auth sign b-1.mycluster.abc123.kafka.us-east-1.amazonaws.com",
	RunE:    signRun,
}

func init() {
	RootCmd.AddCommand(signCmd)
	signCmd.Flags().DurationVarP(&signTimeout, "timeout", "t", 30*time.Second, "How long to wait for a usable credential")
}

func signRun(cmd *cobra.Command, args []string) error {
	if len(args) < 1 {
		return ErrTooFewArguments
	}
	if len(args) > 1 {
		return ErrTooManyArguments
	}
	host := args[0]

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	h, err := mskiam.NewHandle(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), signTimeout)
	defer cancel()
	if _, err := h.AwaitCredential(ctx); err != nil {
		return fmt.Errorf("no usable credential: %w", err)
	}

	state, err := mskiam.NewAuthState(h, host)
	if err != nil {
		return err
	}
	payload, _, err := state.Step(nil)
	if err != nil {
		return err
	}

	fmt.Println(string(payload))
	return nil
}
