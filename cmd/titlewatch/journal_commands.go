package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/hmlr/titlewatch/service/db"
	"github.com/hmlr/titlewatch/service/temporal"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

// entryView is the JSON shape of a journal entry.
type entryView struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	TransitionKey string     `json:"transition_key"`
	Recipient     string     `json:"recipient,omitempty"`
	Template      string     `json:"template,omitempty"`
	Body          string     `json:"body,omitempty"`
	Outcome       string     `json:"outcome"`
	Reason        string     `json:"reason,omitempty"`
	ProviderID    *string    `json:"provider_id,omitempty"`
	Detail        *string    `json:"detail,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

func viewEntry(e *db.Entry) entryView {
	return entryView{
		ID:            e.ID.String(),
		Kind:          e.Kind,
		TransitionKey: e.TransitionKey,
		Recipient:     e.Recipient,
		Template:      e.Template,
		Body:          e.Body,
		Outcome:       e.Outcome,
		Reason:        e.Reason,
		ProviderID:    e.ProviderID,
		Detail:        e.Detail,
		CreatedAt:     e.CreatedAt,
		ResolvedAt:    e.ResolvedAt,
	}
}

// getStore opens the journal database named by --database-url.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database URL is required (set DATABASE_URL or use --database-url)")
	}

	pool, err := pgxpool.New(c.Context, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}

func listEntriesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List journal entries, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "outcome",
				Usage: "Only show entries with this outcome (e.g. failed, unknown, sent, skipped)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of entries to show",
				Value: 50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closeStore, err := getStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := store.List(c.Context, db.ListParams{
				Outcome: c.String("outcome"),
				Limit:   int32(c.Int("limit")),
			})
			if err != nil {
				return fmt.Errorf("failed to list entries: %w", err)
			}

			if c.Bool("json") {
				views := make([]entryView, 0, len(entries))
				for _, e := range entries {
					views = append(views, viewEntry(e))
				}
				return outputJSON(out(c), views)
			}

			if len(entries) == 0 {
				fmt.Fprintln(out(c), "No journal entries found")
				return nil
			}

			w := tabwriter.NewWriter(out(c), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tKEY\tOUTCOME\tREASON\tCREATED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID,
					e.Kind,
					e.TransitionKey,
					e.Outcome,
					e.Reason,
					e.CreatedAt.Format(time.RFC3339),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(errOut(c), "\nTotal: %d entries\n", len(entries))
			return nil
		},
	}
}

func getEntryCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show a journal entry",
		ArgsUsage: "<entry-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: entry ID")
			}
			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid entry ID: %w", err)
			}

			store, closeStore, err := getStore(c)
			if err != nil {
				return err
			}
			defer closeStore()

			entry, err := store.Get(c.Context, id)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(out(c), viewEntry(entry))
			}
			printEntry(c, entry)
			return nil
		},
	}
}

func printEntry(c *cli.Context, e *db.Entry) {
	w := out(c)
	fmt.Fprintf(w, "ID:         %s\n", e.ID)
	fmt.Fprintf(w, "Kind:       %s\n", e.Kind)
	fmt.Fprintf(w, "Key:        %s\n", e.TransitionKey)
	if e.Recipient != "" {
		fmt.Fprintf(w, "Recipient:  %s\n", e.Recipient)
	}
	if e.Template != "" {
		fmt.Fprintf(w, "Template:   %s\n", e.Template)
	}
	fmt.Fprintf(w, "Outcome:    %s\n", e.Outcome)
	if e.Reason != "" {
		fmt.Fprintf(w, "Reason:     %s\n", e.Reason)
	}
	if e.ProviderID != nil {
		fmt.Fprintf(w, "Provider:   %s\n", *e.ProviderID)
	}
	fmt.Fprintf(w, "Created:    %s\n", e.CreatedAt.Format(time.RFC3339))
	if e.ResolvedAt != nil {
		fmt.Fprintf(w, "Resolved:   %s\n", e.ResolvedAt.Format(time.RFC3339))
	}
	if e.Detail != nil {
		fmt.Fprintf(w, "Detail:     %s\n", *e.Detail)
	}
	if e.Body != "" {
		fmt.Fprintf(w, "\n%s\n", e.Body)
	}
}

func resendCommand() *cli.Command {
	return &cli.Command{
		Name:      "resend",
		Usage:     "Resend a failed or unknown SMS through the resend workflow",
		ArgsUsage: "<entry-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for the workflow to finish and print its result",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait with --wait",
				Value: 5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: entry ID")
			}
			entryID := c.Args().First()
			if _, err := uuid.Parse(entryID); err != nil {
				return fmt.Errorf("invalid entry ID: %w", err)
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			tc, err := temporal.NewClient(
				c.String("temporal-host"),
				c.String("temporal-namespace"),
				c.String("temporal-task-queue"),
				logger,
			)
			if err != nil {
				return err
			}
			defer tc.Close()

			run, err := tc.StartResend(c.Context, entryID)
			if err != nil {
				return err
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return outputJSON(out(c), map[string]string{
						"workflow_id": run.GetID(),
						"run_id":      run.GetRunID(),
					})
				}
				fmt.Fprintf(out(c), "Started resend workflow %s (run %s)\n", run.GetID(), run.GetRunID())
				return nil
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			var result temporal.ResendResult
			if err := run.Get(ctx, &result); err != nil {
				return fmt.Errorf("resend failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(out(c), result)
			}
			if result.AlreadyDelivered {
				fmt.Fprintf(out(c), "✓ Entry %s was already delivered\n", entryID)
				return nil
			}
			fmt.Fprintf(out(c), "✓ Resent %s to %s (provider id %s)\n", result.Template, result.Recipient, result.ProviderID)
			return nil
		},
	}
}
