package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewTokenCommand groups token tooling.
func NewTokenCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Development token tooling",
	}
	cmd.AddCommand(newMintCommand(env))
	return cmd
}

func newMintCommand(env *Env) *cobra.Command {
	var admin bool
	cmd := &cobra.Command{
		Use:   "mint <uid>",
		Short: "Sign a token for uid with the configured private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.Authority()
			if err != nil {
				return err
			}
			tok, err := a.CreateJWT(args[0], admin)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the admin claim")
	return cmd
}
