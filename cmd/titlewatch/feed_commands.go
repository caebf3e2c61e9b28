package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hmlr/titlewatch/service/ledger"
	natsfeed "github.com/hmlr/titlewatch/service/nats"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// connectFeed connects to the ledger feed named by the global flags.
func connectFeed(c *cli.Context) (*natsfeed.JetStreamFeed, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return natsfeed.Connect(natsfeed.FeedConfig{
		URL:      c.String("ledger-url"),
		Username: c.String("ledger-username"),
		Password: c.String("ledger-password"),
		Stream:   c.String("ledger-stream"),
		Name:     "titlewatch-cli",
		Logger:   logger,
	})
}

func tailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "Print new ledger states as they are produced, one JSON object per line",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "state-type",
				Usage: "State type to follow (can be specified multiple times)",
				Value: cli.NewStringSlice(ledger.StateTypeAgreement, ledger.StateTypeInstruction),
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
			},
		},
		Action: func(c *cli.Context) error {
			codes, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			feed, err := connectFeed(c)
			if err != nil {
				return err
			}
			defer feed.Close()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub, err := feed.Subscribe(ctx, c.StringSlice("state-type"))
			if err != nil {
				return err
			}
			defer sub.Stop()

			fmt.Fprintf(errOut(c), "Following %v (Ctrl+C to stop)\n", c.StringSlice("state-type"))

			for {
				update, err := sub.Next(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					var malformed *natsfeed.MalformedUpdateError
					if errors.As(err, &malformed) {
						fmt.Fprintf(errOut(c), "skipping malformed update on %s: %v\n", malformed.Subject, malformed.Err)
						continue
					}
					return err
				}
				if _, err := writeMatching(out(c), update, codes); err != nil {
					return err
				}
			}
		},
	}
}

func compileFilters(filters []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// writeMatching writes each produced state of the update that passes every
// filter and returns how many were written.
func writeMatching(w io.Writer, update *ledger.Update, codes []*gojq.Code) (int, error) {
	written := 0
	for _, ps := range update.Produced {
		line, err := json.Marshal(ps)
		if err != nil {
			return written, fmt.Errorf("failed to encode state: %w", err)
		}

		var doc interface{}
		if err := json.Unmarshal(line, &doc); err != nil {
			return written, fmt.Errorf("failed to decode state: %w", err)
		}
		if !matchesAll(doc, codes) {
			continue
		}

		if _, err := fmt.Fprintln(w, string(line)); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// matchesAll reports whether every filter yields a truthy first result.
func matchesAll(doc interface{}, codes []*gojq.Code) bool {
	for _, code := range codes {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := v.(error); isErr {
			return false
		}
		if !isTruthy(v) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func identityCommand() *cli.Command {
	return &cli.Command{
		Name:  "identity",
		Usage: "Show the ledger node's legal identity",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 10 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			feed, err := connectFeed(c)
			if err != nil {
				return err
			}
			defer feed.Close()

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			id, err := feed.Identity(ctx)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(out(c), id)
			}
			fmt.Fprintln(out(c), id.String())
			return nil
		},
	}
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish an update batch to the ledger stream (local development)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "state-type",
				Usage:    "State type subject to publish on",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "file",
				Usage: "JSON file holding the update; reads stdin when omitted",
			},
			&cli.BoolFlag{
				Name:  "ensure-stream",
				Usage: "Create the stream first if it does not exist",
			},
		},
		Action: func(c *cli.Context) error {
			var src io.Reader = os.Stdin
			if path := c.String("file"); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open update file: %w", err)
				}
				defer f.Close()
				src = f
			}

			update, err := readUpdate(src, c.String("state-type"))
			if err != nil {
				return err
			}

			feed, err := connectFeed(c)
			if err != nil {
				return err
			}
			defer feed.Close()

			if c.Bool("ensure-stream") {
				if err := feed.EnsureStream(c.Context); err != nil {
					return err
				}
			}

			if err := feed.Publish(c.Context, c.String("state-type"), update); err != nil {
				return err
			}

			fmt.Fprintf(errOut(c), "Published %d state(s) to %s\n", len(update.Produced), natsfeed.Subject(c.String("state-type")))
			return nil
		},
	}
}

// readUpdate decodes an update batch. A document without "produced" is
// treated as the data of a single state of the given type.
func readUpdate(r io.Reader, stateType string) (*ledger.Update, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read update: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("update must be a JSON object: %w", err)
	}

	if _, ok := fields["produced"]; ok {
		var update ledger.Update
		if err := json.Unmarshal(raw, &update); err != nil {
			return nil, fmt.Errorf("failed to decode update: %w", err)
		}
		return &update, nil
	}

	return &ledger.Update{
		Produced: []ledger.ProducedState{{StateType: stateType, Data: json.RawMessage(raw)}},
	}, nil
}
