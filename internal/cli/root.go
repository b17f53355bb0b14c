// Package cli is the sequencectl operator command line.
package cli

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jason-s-yu/sequence/internal/auth"
	"github.com/jason-s-yu/sequence/internal/janitor"
)

// Env opens what the commands act on. Each call returns a cleanup func.
type Env struct {
	Log       *logrus.Logger
	Janitor   func(ctx context.Context) (*janitor.Janitor, func(), error)
	Authority func() (*auth.Authority, error)
}

// NewRootCommand creates the sequencectl root command.
func NewRootCommand(env *Env) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "sequencectl",
		Short: "Operate a sequence deployment",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				env.Log.SetLevel(logrus.DebugLevel)
			}
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewJanitorCommand(env))
	cmd.AddCommand(NewTokenCommand(env))
	return cmd
}
