package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "titlewatch",
		Usage: "Land title notification and case sync operator CLI",
		Description: `A command-line tool for operating the titlewatch listener.

Use this CLI to inspect the outcome journal, resend failed notifications,
check phone numbers and templates, and watch the ledger feed.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "journal",
				Usage: "Outcome journal commands",
				Subcommands: []*cli.Command{
					listEntriesCommand(),
					getEntryCommand(),
					resendCommand(),
				},
			},
			{
				Name:  "sms",
				Usage: "SMS validation and template commands",
				Subcommands: []*cli.Command{
					validateCommand(),
					renderCommand(),
					templatesCommand(),
				},
			},
			{
				Name:  "feed",
				Usage: "Ledger feed commands",
				Subcommands: []*cli.Command{
					tailCommand(),
					identityCommand(),
					publishCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Outcome journal database URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue of the resend worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "titlewatch-resend",
			},
			&cli.StringFlag{
				Name:    "ledger-url",
				Usage:   "Ledger NATS URL",
				EnvVars: []string{"LEDGER_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "ledger-username",
				Usage:   "Ledger RPC username",
				EnvVars: []string{"CONFIG_RPC_USERNAME"},
			},
			&cli.StringFlag{
				Name:    "ledger-password",
				Usage:   "Ledger RPC password",
				EnvVars: []string{"CONFIG_RPC_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "ledger-stream",
				Usage:   "Ledger JetStream stream",
				EnvVars: []string{"LEDGER_STREAM"},
				Value:   "LEDGER",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
