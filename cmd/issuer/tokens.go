package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/issuer/internal/issuer/app"
	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/pkg/jwtx"
)

func newIssueCmd(opts *rootOptions) *cobra.Command {
	var (
		clientID    string
		subject     string
		authorities []string
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access and refresh token for an authenticated principal",
		Long: `Issue runs the password grant for a principal that has already been
authenticated. The client's full scope set is granted.

With ephemeral keys the access token only verifies inside this process;
use ISSUER_KEY_STORAGE_MODE=persistent to verify it later.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				resp, err := a.Generator.Generate(ctx, domain.Principal{
					Subject:     subject,
					Authorities: authorities,
				}, clientID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client ID")
	cmd.Flags().StringVar(&subject, "subject", "", "principal subject")
	cmd.Flags().StringSliceVar(&authorities, "authority", nil, "granted authority, repeatable")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "verify <access-token>",
		Short: "Verify an access token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				validate := a.Validator.Validate
				if clientID != "" {
					validate = func(ctx context.Context, tok string) (jwtx.Claims, error) {
						return a.Validator.ValidateFor(ctx, tok, clientID)
					}
				}
				claims, err := validate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), claims)
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "require this client ID in the audience")
	return cmd
}

func newRefreshCmd(opts *rootOptions) *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "refresh <refresh-token>",
		Short: "Exchange a refresh token for a new token pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				resp, err := a.Refresher.Exchange(ctx, clientID, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client ID the token was issued to")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func newRevokeCmd(opts *rootOptions) *cobra.Command {
	var (
		all      bool
		subject  string
		clientID string
	)
	cmd := &cobra.Command{
		Use:   "revoke [refresh-token]",
		Short: "Revoke a refresh token, or every token of a subject with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass either a refresh token or --all with --subject and --client")
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				if !all {
					if err := a.Refresher.Revoke(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "revoked")
					return nil
				}
				n, err := a.Refresher.RevokeAll(ctx, subject, clientID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "revoke every live token for --subject at --client")
	cmd.Flags().StringVar(&subject, "subject", "", "subject for --all")
	cmd.Flags().StringVar(&clientID, "client", "", "client ID for --all")
	cmd.MarkFlagsRequiredTogether("all", "subject", "client")
	return cmd
}
