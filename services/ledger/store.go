// Package ledger keeps a durable record of every pull request the service has
// opened, fed by workflow publication events.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"casegen/pkg/db"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// Publication is one row of the ledger.
type Publication struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	EventID           string          `db:"event_id" json:"eventId"`
	RunID             uuid.UUID       `db:"run_id" json:"runId"`
	Login             string          `db:"login" json:"login"`
	Owner             string          `db:"owner" json:"owner"`
	Repo              string          `db:"repo" json:"repo"`
	Branch            string          `db:"branch" json:"branch"`
	BaseBranch        string          `db:"base_branch" json:"baseBranch"`
	FilePath          string          `db:"file_path" json:"filePath"`
	PullRequestURL    string          `db:"pull_request_url" json:"pullRequestUrl"`
	PullRequestNumber int             `db:"pull_request_number" json:"number"`
	Summary           json.RawMessage `db:"summary" json:"summary,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}

// Store persists publications in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an open pool. Run db.Migrate first.
func NewStore(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Record inserts p unless its event id was already recorded. It reports
// whether a row was written.
func (s *Store) Record(ctx context.Context, p Publication) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	summary := p.Summary
	if len(summary) == 0 {
		summary = json.RawMessage("{}")
	}

	tag, err := db.Exec(ctx, s.pool, `
		INSERT INTO publications (
			id, event_id, run_id, login, owner, repo, branch, base_branch,
			file_path, pull_request_url, pull_request_number, summary, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO NOTHING`,
		p.ID, p.EventID, p.RunID, p.Login, p.Owner, p.Repo, p.Branch, p.BaseBranch,
		p.FilePath, p.PullRequestURL, p.PullRequestNumber, string(summary), p.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByLogin returns the most recent publications of login, newest first.
func (s *Store) ListByLogin(ctx context.Context, login string, limit int) ([]Publication, error) {
	limit = clampLimit(limit)
	var out []Publication
	err := db.Select(ctx, s.pool, &out, `
		SELECT id, event_id, run_id, login, owner, repo, branch, base_branch,
		       file_path, pull_request_url, pull_request_number, summary, created_at
		FROM publications
		WHERE login = $1
		ORDER BY created_at DESC
		LIMIT $2`, login, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountByLogin returns how many publications login has in total.
func (s *Store) CountByLogin(ctx context.Context, login string) (int, error) {
	var n int
	if err := db.Get(ctx, s.pool, &n, `SELECT count(*) FROM publications WHERE login = $1`, login); err != nil {
		return 0, err
	}
	return n, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
