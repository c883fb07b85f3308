package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/limiquantix/consolidator/internal/services/auth"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		operator string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			tok, err := auth.NewJWTManager(a.cfg.Auth).Generate(operator, r)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tok)
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "", "Name of the token holder")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "Role: viewer or operator")
	cmd.MarkFlagRequired("operator")

	return cmd
}
