package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"casegen/services/generation"
)

const (
	// SubjectStage carries every committed stage transition.
	SubjectStage = "casegen.runs.stage"
	// SubjectPublished carries successful pull request publications.
	SubjectPublished = "casegen.runs.published"
	// StreamName is the JetStream stream holding both subjects.
	StreamName = "CASEGEN_RUNS"
)

// EventPublisher delivers lifecycle events. *bus.Bus satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// StageEvent is published after a transition commits.
type StageEvent struct {
	RunID uuid.UUID `json:"run_id"`
	Login string    `json:"login"`
	Op    string    `json:"op"`
	From  Stage     `json:"from"`
	To    Stage     `json:"to"`
	At    time.Time `json:"at"`
}

// PublishedEvent is published after a pull request is opened.
type PublishedEvent struct {
	RunID             uuid.UUID              `json:"run_id"`
	Login             string                 `json:"login"`
	Owner             string                 `json:"owner"`
	Repo              string                 `json:"repo"`
	Branch            string                 `json:"branch"`
	BaseBranch        string                 `json:"base_branch"`
	FilePath          string                 `json:"file_path"`
	PullRequestURL    string                 `json:"pull_request_url"`
	PullRequestNumber int                    `json:"pull_request_number"`
	Summary           generation.TestSummary `json:"summary"`
	PublishedAt       time.Time              `json:"published_at"`
}

func (o *Orchestrator) emit(ctx context.Context, subject string, payload any) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(context.WithoutCancel(ctx), subject, payload); err != nil {
		o.logger.Warn().Err(err).Str("subject", subject).Msg("publish workflow event")
	}
}
