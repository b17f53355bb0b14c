// cmd/sequencectl is the operator CLI: janitor jobs and development tokens.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/jason-s-yu/sequence/internal/auth"
	"github.com/jason-s-yu/sequence/internal/bootstrap"
	"github.com/jason-s-yu/sequence/internal/cli"
	"github.com/jason-s-yu/sequence/internal/config"
	"github.com/jason-s-yu/sequence/internal/janitor"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	env := &cli.Env{
		Log: logger,
		Janitor: func(ctx context.Context) (*janitor.Janitor, func(), error) {
			infra, err := bootstrap.Open(ctx, cfg, logger)
			if err != nil {
				return nil, nil, err
			}
			return infra.Janitor(cfg, logger), infra.Close, nil
		},
		Authority: func() (*auth.Authority, error) {
			return bootstrap.Authority(cfg, logger)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cli.NewRootCommand(env).ExecuteContext(ctx); err != nil {
		logger.Error(err)
		stop()
		os.Exit(1)
	}
}
