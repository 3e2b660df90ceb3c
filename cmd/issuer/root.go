package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/issuer/internal/issuer/app"
	"github.com/aussiebroadwan/issuer/internal/issuer/service"
)

type rootOptions struct {
	envFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "issuer",
		Short:        "Password-grant token issuer",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.LoadEnvFile(opts.envFile)
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment, skipped when missing")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(
		newServeCmd(opts),
		newIssueCmd(opts),
		newVerifyCmd(opts),
		newRefreshCmd(opts),
		newRevokeCmd(opts),
		newClientsCmd(opts),
		newKeysCmd(opts),
		newPruneCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the environment and applies flag overrides.
func (o *rootOptions) loadConfig() app.Config {
	cfg := app.LoadConfig()
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg
}

// withApp builds the application for a one-shot command and closes it
// afterwards. Logs and spans go to stderr so stdout only carries results.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application) error) error {
	ctx := cmd.Context()
	a, err := app.New(ctx, o.loadConfig(), app.Options{
		LogOutput:   cmd.ErrOrStderr(),
		TraceOutput: cmd.ErrOrStderr(),
	})
	if err != nil {
		return reportError(cmd, err)
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
	return reportError(cmd, fn(ctx, a))
}

// reportError also renders issuance failures as the error response object
// on stdout. Cobra prints the error itself to stderr.
func reportError(cmd *cobra.Command, err error) error {
	var se *service.Error
	if errors.As(err, &se) {
		_ = printJSON(cmd.OutOrStdout(), service.ResponseFor(err))
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run housekeeping and the operational listener (JWKS, health, metrics)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cmd.Context(), opts.loadConfig(), app.Options{})
			if err != nil {
				return reportError(cmd, err)
			}
			return reportError(cmd, a.Run(cmd.Context()))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.BuildVersion)
		},
	}
}
