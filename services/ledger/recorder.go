package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"casegen/pkg/bus"
	"casegen/services/workflow"
)

const durableName = "ledger-publications"

// Writer is the storage capability the Recorder needs.
type Writer interface {
	Record(ctx context.Context, p Publication) (bool, error)
}

// Subscriber is the bus capability the Recorder needs. *bus.Bus satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, env bus.Envelope) error) (io.Closer, error)
}

// Recorder turns publication events into ledger rows.
type Recorder struct {
	store  Writer
	logger zerolog.Logger
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store Writer, logger zerolog.Logger) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "ledger").Logger(),
	}, nil
}

// Start subscribes to publication events until ctx is cancelled.
func (r *Recorder) Start(ctx context.Context, sub Subscriber) (io.Closer, error) {
	if r == nil {
		return nil, errors.New("nil recorder")
	}
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	return sub.Subscribe(ctx, workflow.SubjectPublished, durableName, r.Handle)
}

// Handle records one publication event. Redelivered events are ignored.
func (r *Recorder) Handle(ctx context.Context, env bus.Envelope) error {
	var evt workflow.PublishedEvent
	if err := json.Unmarshal(env.Data, &evt); err != nil {
		r.logger.Error().Err(err).Str("event_id", env.ID).Msg("discarding malformed publication event")
		return nil
	}
	if evt.RunID == uuid.Nil || evt.PullRequestURL == "" {
		r.logger.Warn().Str("event_id", env.ID).Msg("publication event missing run id or url")
		return nil
	}

	summary, err := json.Marshal(evt.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	createdAt := evt.PublishedAt
	if createdAt.IsZero() {
		createdAt = env.At
	}

	inserted, err := r.store.Record(ctx, Publication{
		ID:                uuid.New(),
		EventID:           env.ID,
		RunID:             evt.RunID,
		Login:             evt.Login,
		Owner:             evt.Owner,
		Repo:              evt.Repo,
		Branch:            evt.Branch,
		BaseBranch:        evt.BaseBranch,
		FilePath:          evt.FilePath,
		PullRequestURL:    evt.PullRequestURL,
		PullRequestNumber: evt.PullRequestNumber,
		Summary:           summary,
		CreatedAt:         createdAt,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("event_id", env.ID).Msg("record publication")
		return err
	}
	if inserted {
		r.logger.Info().Str("login", evt.Login).Str("url", evt.PullRequestURL).Msg("publication recorded")
	}
	return nil
}
