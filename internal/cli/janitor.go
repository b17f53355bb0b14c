package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jason-s-yu/sequence/internal/janitor"
)

// NewJanitorCommand runs clean-up jobs once, or on their cadence with --loop.
func NewJanitorCommand(env *Env) *cobra.Command {
	var loop bool
	cmd := &cobra.Command{
		Use:       "janitor <presence|idle|ghost|expired|events|all>",
		Short:     "Run clean-up jobs against the store",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"presence", "idle", "ghost", "expired", "events", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			j, closeFn, err := env.Janitor(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			jobs, err := selectJobs(j, args[0])
			if err != nil {
				return err
			}
			if loop {
				j.Loop(ctx, jobs...)
				return nil
			}
			return j.RunOnce(ctx, jobs...)
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "keep running each job on its schedule")
	return cmd
}

func selectJobs(j *janitor.Janitor, name string) ([]janitor.Job, error) {
	if name == "all" {
		return j.Jobs(), nil
	}
	job, ok := j.Job(name)
	if !ok {
		names := make([]string, 0, 6)
		for _, job := range j.Jobs() {
			names = append(names, job.Name)
		}
		return nil, fmt.Errorf("unknown job %q: want one of %s or all", name, strings.Join(names, ", "))
	}
	return []janitor.Job{job}, nil
}
