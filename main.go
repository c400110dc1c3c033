package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/tessellated-ai/temporal-memory-service/internal/cmd/decay"
	"github.com/tessellated-ai/temporal-memory-service/internal/cmd/migrate"
	"github.com/tessellated-ai/temporal-memory-service/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "temporal-memory-service",
		Usage: "Temporal memory store for AI agents",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			decay.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
