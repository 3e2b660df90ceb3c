package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aussiebroadwan/issuer/internal/issuer/app"
	"github.com/aussiebroadwan/issuer/internal/issuer/domain"
	"github.com/aussiebroadwan/issuer/internal/issuer/service"
)

func newClientsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "clients",
		Aliases: []string{"client"},
		Short:   "Manage registered clients",
	}
	cmd.AddCommand(
		newClientsAddCmd(opts),
		newClientsListCmd(opts),
		newClientsStatusCmd(opts),
		newClientsScopesCmd(opts),
		newClientsRemoveCmd(opts),
		newClientsImportCmd(opts),
	)
	return cmd
}

func newClientsAddCmd(opts *rootOptions) *cobra.Command {
	var (
		name         string
		confidential bool
		scopes       []string
		status       string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a client; confidential clients get a one-time secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				id, secret, err := a.Clients.Register(ctx, name, confidential, scopes, domain.ClientStatus(status))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), struct {
					ClientID     string `json:"client_id"`
					ClientSecret string `json:"client_secret,omitempty"`
				}{id, secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().BoolVar(&confidential, "confidential", false, "generate a client secret")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "allowed scope, repeatable")
	cmd.Flags().StringVar(&status, "status", string(domain.ClientActive), "active, locked, expired or disabled")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// clientsList renders clients in the layout ImportFile reads, minus secrets.
func clientsList(clients []domain.Client) service.ClientFile {
	out := service.ClientFile{Clients: make([]service.ClientEntry, 0, len(clients))}
	for _, c := range clients {
		out.Clients = append(out.Clients, service.ClientEntry{
			ID:     c.ID,
			Name:   c.Name,
			Scopes: c.Scopes,
			Status: string(c.Status),
		})
	}
	return out
}

func newClientsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List clients as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				clients, err := a.Clients.List(ctx)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(clientsList(clients)); err != nil {
					return err
				}
				return enc.Close()
			})
		},
	}
}

func newClientsStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <client-id> <active|locked|expired|disabled>",
		Short: "Change a client's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseClientStatus(args[1])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				return a.Clients.SetStatus(ctx, args[0], status)
			})
		},
	}
}

func newClientsScopesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scopes <client-id> [scope...]",
		Short: "Replace a client's scope set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				return a.Clients.SetScopes(ctx, args[0], args[1:])
			})
		},
	}
}

func newClientsRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <client-id>",
		Short: "Delete a client and its refresh tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				return a.Clients.Delete(ctx, args[0])
			})
		},
	}
}

func newClientsImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update clients from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.Application) error {
				n, err := a.Clients.ImportFile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d clients\n", n)
				return nil
			})
		},
	}
}
