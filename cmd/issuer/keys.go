package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/issuer/internal/issuer/app"
)

func newKeysCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Inspect and rotate signing keys",
	}
	cmd.AddCommand(newKeysJWKSCmd(opts), newKeysRotateCmd(opts))
	return cmd
}

func newKeysJWKSCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jwks",
		Short: "Print the public JWK set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(_ context.Context, a *app.Application) error {
				return printJSON(cmd.OutOrStdout(), a.KeyManager().KeySet().JWKS())
			})
		},
	}
}

func newKeysRotateCmd(opts *rootOptions) *cobra.Command {
	var retire bool
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Add a signing key, optionally retiring the active ones",
		Long: `Rotate stores a new sealed signing key. With --retire the previously
active keys stop signing but keep verifying for ISSUER_KEY_GRACE_PERIOD.

Only meaningful with ISSUER_KEY_STORAGE_MODE=persistent; running
processes pick the new key up on restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				rot, err := a.KeyRotation.RotateKey(ctx, retire)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), struct {
					NewKID     string   `json:"new_kid"`
					RetiredKID []string `json:"retired_kids,omitempty"`
					ActiveKeys int      `json:"active_keys"`
				}{rot.NewKID, rot.RetiredKID, rot.ActiveKeys})
			})
		},
	}
	cmd.Flags().BoolVar(&retire, "retire", false, "retire the currently active keys")
	return cmd
}

func newPruneCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired refresh tokens and signing keys once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				sweep, err := a.Housekeeping.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), struct {
					RefreshTokens int64 `json:"refresh_tokens"`
					SigningKeys   int64 `json:"signing_keys"`
				}{sweep.RefreshTokens, sweep.SigningKeys})
			})
		},
	}
}
