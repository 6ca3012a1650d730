package main

import (
	"errors"
	"fmt"

	"github.com/dkeye/Dialtone/internal/adapters/auth"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <user>",
	Short: "Print a token for user signed with the configured jwt_secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return errors.New("jwt_secret is not configured")
		}
		user, err := domain.ParseUserID(args[0])
		if err != nil {
			return err
		}
		tok, err := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, 0).Issue(user)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
