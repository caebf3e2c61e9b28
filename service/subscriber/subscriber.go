package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hmlr/titlewatch/service/ledger"
	"github.com/hmlr/titlewatch/service/metrics"
	natsfeed "github.com/hmlr/titlewatch/service/nats"
)

// Handler processes one decoded transition. It must not block beyond its
// own outbound call timeouts.
type Handler func(ctx context.Context, t ledger.Transition)

// Config describes one subscriber instance.
type Config struct {
	Name       string   // used in logs and metrics
	StateTypes []string // state types to subscribe to
	// Filter drops transitions before they reach Handler. Optional.
	Filter  func(ledger.Transition) bool
	Handler Handler
	Feed    natsfeed.Feed
	Metrics *metrics.Metrics // Optional
	Logger  *slog.Logger
}

// Subscriber consumes ledger updates and hands each produced state to its
// handler, one at a time and in feed order.
type Subscriber struct {
	name       string
	stateTypes map[string]bool
	subjects   []string
	filter     func(ledger.Transition) bool
	handler    Handler
	feed       natsfeed.Feed
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New validates cfg and creates a Subscriber.
func New(cfg Config) (*Subscriber, error) {
	var errs []error
	if cfg.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if len(cfg.StateTypes) == 0 {
		errs = append(errs, fmt.Errorf("at least one state type is required"))
	}
	if cfg.Handler == nil {
		errs = append(errs, fmt.Errorf("handler is required"))
	}
	if cfg.Feed == nil {
		errs = append(errs, fmt.Errorf("feed is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid subscriber config: %v", errs)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	types := make(map[string]bool, len(cfg.StateTypes))
	for _, st := range cfg.StateTypes {
		types[st] = true
	}

	return &Subscriber{
		name:       cfg.Name,
		stateTypes: types,
		subjects:   cfg.StateTypes,
		filter:     cfg.Filter,
		handler:    cfg.Handler,
		feed:       cfg.Feed,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "subscriber", "subscriber", cfg.Name),
	}, nil
}

// Name returns the subscriber's name.
func (s *Subscriber) Name() string {
	return s.name
}

// Run subscribes and processes updates until ctx is cancelled, returning
// nil in that case. Any other feed error ends the loop and is returned.
func (s *Subscriber) Run(ctx context.Context) error {
	sub, err := s.feed.Subscribe(ctx, s.subjects)
	if err != nil {
		return fmt.Errorf("subscriber %s: %w", s.name, err)
	}
	defer sub.Stop()

	s.logger.InfoContext(ctx, "tracking ledger states", "state_types", s.subjects)

	for {
		update, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.InfoContext(ctx, "subscriber stopping")
				return nil
			}
			var malformed *natsfeed.MalformedUpdateError
			if errors.As(err, &malformed) {
				s.metrics.RecordDecodeError(s.name, natsfeed.StateTypeFromSubject(malformed.Subject))
				s.logger.ErrorContext(ctx, "skipping malformed update", "error", err)
				continue
			}
			return fmt.Errorf("subscriber %s: %w", s.name, err)
		}

		s.Process(ctx, update)
	}
}

// Process handles one update batch. Exported for replay tooling and tests.
func (s *Subscriber) Process(ctx context.Context, update *ledger.Update) {
	s.metrics.RecordUpdate(s.name, len(update.Produced))

	if len(update.Produced) == 0 {
		s.logger.WarnContext(ctx, "update is empty", "consumed", len(update.Consumed))
		return
	}

	s.logger.DebugContext(ctx, "received update", "produced", len(update.Produced))

	for _, ps := range update.Produced {
		if !s.stateTypes[ps.StateType] {
			if ledger.KnownStateType(ps.StateType) {
				s.logger.DebugContext(ctx, "ignoring state type", "state_type", ps.StateType)
			} else {
				s.logger.InfoContext(ctx, "no handler for state type", "state_type", ps.StateType)
			}
			continue
		}

		t, err := ledger.Decode(ps)
		if err != nil {
			s.metrics.RecordDecodeError(s.name, ps.StateType)
			s.logger.ErrorContext(ctx, "failed to decode state", "state_type", ps.StateType, "error", err)
			continue
		}
		s.metrics.RecordState(s.name, ps.StateType)

		if s.filter != nil && !s.filter(t) {
			s.logger.DebugContext(ctx, "state filtered out", "state_type", ps.StateType)
			continue
		}

		s.handle(ctx, t)
	}
}

// handle runs the handler, containing any panic so one bad state cannot
// stop the loop.
func (s *Subscriber) handle(ctx context.Context, t ledger.Transition) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "handler panicked", "state_type", t.StateType(), "panic", r)
		}
	}()
	s.handler(ctx, t)
}
