package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/convene/messenger-service/internal/cmd/migrate"
	"github.com/convene/messenger-service/internal/cmd/provision"
	"github.com/convene/messenger-service/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "messenger-service",
		Usage: "Conversation provisioning service for the convention messenger",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			provision.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
