package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hmlr/titlewatch/service/ledger"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// FeedConfig contains the ledger connection settings.
type FeedConfig struct {
	URL      string // e.g. nats://ledger:4222
	Username string
	Password string
	Stream   string // defaults to StreamName
	Name     string // client connection name
	Logger   *slog.Logger
}

// JetStreamFeed reads ledger vault updates from NATS JetStream.
type JetStreamFeed struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	logger *slog.Logger
}

// Connect connects to the ledger's NATS server.
func Connect(cfg FeedConfig) (*JetStreamFeed, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Stream == "" {
		cfg.Stream = StreamName
	}
	if cfg.Name == "" {
		cfg.Name = "titlewatch"
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(10 * time.Second),
		nats.ReconnectWait(1 * time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger feed: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cfg.Logger.Info("connected to ledger feed",
		"url", cfg.URL,
		"stream", cfg.Stream,
	)

	return &JetStreamFeed{
		nc:     nc,
		js:     js,
		stream: cfg.Stream,
		logger: cfg.Logger.With("component", "ledger_feed"),
	}, nil
}

// Subscribe opens an ordered consumer on the stream, filtered to the state
// types' subjects and starting at the next new message. The ledger's
// existing states are never replayed.
func (f *JetStreamFeed) Subscribe(ctx context.Context, stateTypes []string) (Subscription, error) {
	if len(stateTypes) == 0 {
		return nil, fmt.Errorf("at least one state type is required")
	}

	subjects := make([]string, 0, len(stateTypes))
	for _, st := range stateTypes {
		subjects = append(subjects, Subject(st))
	}

	cons, err := f.js.OrderedConsumer(ctx, f.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: subjects,
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer on %s: %w", f.stream, err)
	}

	it, err := cons.Messages()
	if err != nil {
		return nil, fmt.Errorf("failed to open message iterator: %w", err)
	}

	f.logger.Info("subscribed to ledger updates", "subjects", subjects)

	return &jetStreamSubscription{it: it}, nil
}

type jetStreamSubscription struct {
	it jetstream.MessagesContext
}

func (s *jetStreamSubscription) Next(ctx context.Context) (*ledger.Update, error) {
	stop := context.AfterFunc(ctx, s.it.Stop)
	defer stop()

	msg, err := s.it.Next()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, jetstream.ErrMsgIteratorClosed) {
			return nil, ErrFeedClosed
		}
		return nil, fmt.Errorf("failed to read ledger update: %w", err)
	}

	var update ledger.Update
	if err := json.Unmarshal(msg.Data(), &update); err != nil {
		return nil, &MalformedUpdateError{Subject: msg.Subject(), Err: err}
	}
	return &update, nil
}

func (s *jetStreamSubscription) Stop() {
	s.it.Stop()
}

// Identity asks the ledger node for its legal identities and returns the first.
func (f *JetStreamFeed) Identity(ctx context.Context) (ledger.Identity, error) {
	msg, err := f.nc.RequestWithContext(ctx, IdentitySubject, nil)
	if err != nil {
		return ledger.Identity{}, fmt.Errorf("identity request failed: %w", err)
	}

	var resp identityResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return ledger.Identity{}, fmt.Errorf("failed to decode identity response: %w", err)
	}
	if resp.Error != "" {
		return ledger.Identity{}, fmt.Errorf("identity request failed: %s", resp.Error)
	}
	if len(resp.LegalIdentities) == 0 {
		return ledger.Identity{}, fmt.Errorf("ledger node reported no legal identities")
	}
	return resp.LegalIdentities[0], nil
}

// EnsureStream creates the ledger stream if it doesn't exist. The ledger
// normally owns the stream; this is for local development and tests.
func (f *JetStreamFeed) EnsureStream(ctx context.Context) error {
	stream, err := f.js.Stream(ctx, f.stream)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			f.logger.Debug("JetStream stream already exists",
				"stream", f.stream,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	f.logger.Info("creating JetStream stream", "stream", f.stream)

	_, err = f.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        f.stream,
		Description: "Ledger vault updates",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish writes an update batch for one state type, as the ledger would.
func (f *JetStreamFeed) Publish(ctx context.Context, stateType string, update *ledger.Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	if _, err := f.js.Publish(ctx, Subject(stateType), data); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}

	f.logger.Debug("published ledger update",
		"subject", Subject(stateType),
		"produced", len(update.Produced),
	)
	return nil
}

// Close closes the connection.
func (f *JetStreamFeed) Close() error {
	if f.nc != nil {
		f.nc.Close()
		f.logger.Info("ledger feed connection closed")
	}
	return nil
}
