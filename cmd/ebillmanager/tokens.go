package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bher20/ebillmanager/internal/auth"
)

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage API tokens",
	}
	cmd.AddCommand(newTokensCreateCmd(), newTokensListCmd(), newTokensRevokeCmd())
	return cmd
}

func newTokensCreateCmd() *cobra.Command {
	var name, role, expires string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a token and print its secret once",
		RunE: func(cmd *cobra.Command, args []string) error {
			expiresAt, err := auth.ParseExpiration(expires, time.Now())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			t, raw, err := a.auth.CreateToken(cmd.Context(), name, role, expiresAt)
			if err != nil {
				return err
			}
			a.log.Info("created token", zap.String("id", t.ID), zap.String("role", t.Role))
			fmt.Println(raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "token name")
	cmd.Flags().StringVar(&role, "role", auth.RoleViewer, "viewer, operator or admin")
	cmd.Flags().StringVar(&expires, "expires", "never", "lifetime (90d, 12w, 720h) or date (2006-01-02)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTokensListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List issued tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			tokens, err := a.store.ListTokens(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tROLE\tEXPIRES\tLAST USED")
			for _, t := range tokens {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Role, fmtTime(t.ExpiresAt), fmtTime(t.LastUsedAt))
			}
			return tw.Flush()
		},
	}
}

func newTokensRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke ID",
		Short: "Delete a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.DeleteToken(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.log.Info("revoked token", zap.String("id", args[0]))
			return nil
		},
	}
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
