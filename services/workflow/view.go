package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"casegen/services/generation"
	"casegen/services/hosting"
	"casegen/services/session"
)

// ErrorView is the last failure recorded on a run.
type ErrorView struct {
	Op      string    `json:"op"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// PublicationView describes the pull request opened by a run.
type PublicationView struct {
	URL        string    `json:"pullRequestUrl"`
	Number     int       `json:"number"`
	Branch     string    `json:"branch"`
	BaseBranch string    `json:"baseBranch"`
	FilePath   string    `json:"filePath"`
	CommitSHA  string    `json:"commitSha,omitempty"`
	At         time.Time `json:"publishedAt"`
}

// RunView is a read-only snapshot of a run.
type RunView struct {
	RunID       uuid.UUID                `json:"runId"`
	Stage       Stage                    `json:"stage"`
	Busy        string                   `json:"busy,omitempty"`
	User        session.Identity         `json:"user"`
	Repository  *hosting.RepositoryRef   `json:"repository,omitempty"`
	Files       []hosting.FileRef        `json:"files,omitempty"`
	Selected    []string                 `json:"selectedFiles"`
	Summaries   []generation.TestSummary `json:"summaries,omitempty"`
	Chosen      *generation.TestSummary  `json:"chosenSummary,omitempty"`
	Artifact    *generation.Artifact     `json:"artifact,omitempty"`
	ArtifactURL string                   `json:"artifactUrl,omitempty"`
	Publication *PublicationView         `json:"publication,omitempty"`
	LastError   *ErrorView               `json:"lastError,omitempty"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

// State returns the session's current run. A run is created at Authenticated
// when the session has none.
func (o *Orchestrator) State(ctx context.Context, sessionID string) (RunView, error) {
	const op = "workflow.State"
	sess, err := o.lookup(op, sessionID)
	if err != nil {
		return RunView{}, err
	}

	o.mu.Lock()
	r, err := o.liveRun(op, sess)
	if err != nil {
		o.mu.Unlock()
		return RunView{}, err
	}
	view := o.viewOf(r, sess.Owner)
	key := r.artifactKey
	o.mu.Unlock()

	if key != "" && o.archive != nil {
		url, err := o.archive.PresignGet(ctx, key, artifactURLTTL)
		if err != nil {
			o.logger.Warn().Err(err).Str("key", key).Msg("presign artifact")
		} else {
			view.ArtifactURL = url
		}
	}
	return view, nil
}

// viewOf copies r into a RunView. Caller holds o.mu.
func (o *Orchestrator) viewOf(r *run, owner session.Identity) RunView {
	view := RunView{
		RunID:     r.id,
		Stage:     r.stage,
		Busy:      r.busy,
		User:      owner,
		Selected:  r.selectedPaths(),
		UpdatedAt: r.updatedAt,
	}
	if r.repo != nil {
		repo := *r.repo
		view.Repository = &repo
	}
	if len(r.files) > 0 {
		view.Files = append([]hosting.FileRef(nil), r.files...)
	}
	if len(r.summaries) > 0 {
		view.Summaries = append([]generation.TestSummary(nil), r.summaries...)
	}
	if r.chosen != nil {
		chosen := *r.chosen
		view.Chosen = &chosen
	}
	if r.artifact != nil {
		artifact := *r.artifact
		view.Artifact = &artifact
	}
	if r.publication != nil {
		pub := *r.publication
		view.Publication = &pub
	}
	if r.lastErr != nil {
		lastErr := *r.lastErr
		view.LastError = &lastErr
	}
	return view
}
