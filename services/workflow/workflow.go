// Package workflow drives a session's run from authentication through to an
// opened pull request. Transitions are serialized per session: a trigger that
// arrives while another is in flight is rejected, and a result that comes back
// after its run was reset or discarded is never applied.
package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"casegen/pkg/apperr"
	"casegen/services/generation"
	"casegen/services/hosting"
	"casegen/services/session"
)

const (
	defaultAuthTimeout    = 10 * time.Second
	defaultHostingTimeout = 60 * time.Second
	defaultMaxSelected    = 10
	artifactURLTTL        = 15 * time.Minute
)

var tracer = otel.Tracer("casegen/services/workflow")

// Hosting is the hosting gateway capability the orchestrator needs.
type Hosting interface {
	Authenticate(ctx context.Context, credential string) (hosting.User, error)
	ListRepositories(ctx context.Context, credential string) ([]hosting.RepositoryRef, error)
	Repository(ctx context.Context, credential, owner, repo string) (hosting.RepositoryRef, error)
	ListCodeFilesAt(ctx context.Context, credential, owner, repo, branch string) ([]hosting.FileRef, error)
	ReadFile(ctx context.Context, credential, owner, repo, path, ref string) (string, error)
	ListPullRequests(ctx context.Context, credential, owner, repo, state string) ([]hosting.PullRequestRef, error)
	PullRequest(ctx context.Context, credential, owner, repo string, number int) (hosting.PullRequestRef, error)
	PublishTestFile(ctx context.Context, credential string, req hosting.PublishRequest) (hosting.PublishResult, error)
}

// Generator is the generation gateway capability the orchestrator needs.
type Generator interface {
	Summarize(ctx context.Context, files []generation.FileContent, primaryLanguage string) ([]generation.TestSummary, error)
	GenerateCode(ctx context.Context, summary generation.TestSummary, files []generation.FileContent, language string) (generation.Artifact, error)
}

// ArtifactStore archives generated code. *s3.Client satisfies it.
type ArtifactStore interface {
	PutArtifact(ctx context.Context, key string, content []byte, contentType string) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Options configures an Orchestrator. Zero values take defaults.
type Options struct {
	AuthTimeout      time.Duration
	HostingTimeout   time.Duration
	MaxSelectedFiles int
	Events           EventPublisher
	Archive          ArtifactStore
	Logger           zerolog.Logger
	Now              func() time.Time
}

// Orchestrator owns every in-memory run, one per session.
type Orchestrator struct {
	sessions  session.Repository
	hosting   Hosting
	generator Generator
	events    EventPublisher
	archive   ArtifactStore
	logger    zerolog.Logger
	now       func() time.Time

	authTimeout    time.Duration
	hostingTimeout time.Duration
	maxSelected    int

	mu   sync.Mutex
	runs map[string]*run
}

// New creates an Orchestrator bound to the provided dependencies.
func New(sessions session.Repository, host Hosting, gen Generator, opts Options) (*Orchestrator, error) {
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if host == nil {
		return nil, errors.New("hosting gateway is required")
	}
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	o := &Orchestrator{
		sessions:       sessions,
		hosting:        host,
		generator:      gen,
		events:         opts.Events,
		archive:        opts.Archive,
		logger:         opts.Logger.With().Str("component", "workflow").Logger(),
		now:            opts.Now,
		authTimeout:    opts.AuthTimeout,
		hostingTimeout: opts.HostingTimeout,
		maxSelected:    opts.MaxSelectedFiles,
		runs:           make(map[string]*run),
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.authTimeout <= 0 {
		o.authTimeout = defaultAuthTimeout
	}
	if o.hostingTimeout <= 0 {
		o.hostingTimeout = defaultHostingTimeout
	}
	if o.maxSelected <= 0 {
		o.maxSelected = defaultMaxSelected
	}
	return o, nil
}

// run is the mutable workflow aggregate for one session. Guarded by Orchestrator.mu.
type run struct {
	id        uuid.UUID
	sessionID string
	login     string
	stage     Stage
	busy      string
	epoch     uint64

	repo      *hosting.RepositoryRef
	files     []hosting.FileRef
	fileIndex map[string]hosting.FileRef
	selected  map[string]struct{}

	contents    []generation.FileContent
	summaries   []generation.TestSummary
	chosen      *generation.TestSummary
	artifact    *generation.Artifact
	artifactKey string
	publication *PublicationView
	lastErr     *ErrorView
	updatedAt   time.Time
}

func (r *run) selectedPaths() []string {
	out := make([]string, 0, len(r.selected))
	for p := range r.selected {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// resetTo discards everything produced after stage.
func (r *run) resetTo(stage Stage) {
	if stage.Before(StageRepoSelected) {
		r.repo = nil
		r.files = nil
		r.fileIndex = nil
	}
	if stage.Before(StageFilesSelected) {
		r.selected = make(map[string]struct{})
	}
	if stage.Before(StageSummariesReady) {
		r.contents = nil
		r.summaries = nil
	}
	if stage.Before(StageCodeReady) {
		r.chosen = nil
		r.artifact = nil
		r.artifactKey = ""
	}
	if stage.Before(StagePublished) {
		r.publication = nil
	}
	r.stage = stage
}

// selectionStage is RepoSelected or FilesSelected depending on the selection.
func (r *run) selectionStage() Stage {
	if len(r.selected) > 0 {
		return StageFilesSelected
	}
	return StageRepoSelected
}

// ticket records the run state observed when an external call began.
type ticket struct {
	op      string
	run     *run
	sess    session.Session
	epoch   uint64
	stage   Stage
	started time.Time
}

// lookup resolves a session. A miss discards any run still held for it.
func (o *Orchestrator) lookup(op, sessionID string) (session.Session, error) {
	sess, err := o.sessions.Lookup(sessionID)
	if err != nil {
		o.dropRun(sessionID)
		failuresTotal.WithLabelValues(op, string(apperr.KindAuth)).Inc()
		return session.Session{}, apperr.Auth(op, "session is missing, invalid or expired")
	}
	return sess, nil
}

// runFor returns the session's run, creating it at Authenticated. Caller holds o.mu.
func (o *Orchestrator) runFor(sess session.Session) *run {
	r, ok := o.runs[sess.ID]
	if !ok {
		r = &run{
			id:        uuid.New(),
			sessionID: sess.ID,
			login:     sess.Owner.Login,
			stage:     StageAuthenticated,
			selected:  make(map[string]struct{}),
			updatedAt: o.now().UTC(),
		}
		o.runs[sess.ID] = r
		activeRuns.Set(float64(len(o.runs)))
	}
	return r
}

// liveRun is runFor after confirming the session still exists. Caller holds o.mu.
func (o *Orchestrator) liveRun(op string, sess session.Session) (*run, error) {
	if _, err := o.sessions.Lookup(sess.ID); err != nil {
		failuresTotal.WithLabelValues(op, string(apperr.KindAuth)).Inc()
		return nil, apperr.Auth(op, "session is missing, invalid or expired")
	}
	return o.runFor(sess), nil
}

func (o *Orchestrator) dropRun(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.runs[sessionID]; ok {
		r.epoch++
		delete(o.runs, sessionID)
		activeRuns.Set(float64(len(o.runs)))
	}
}

// begin marks the session's run busy after guard accepts it.
func (o *Orchestrator) begin(op, sessionID string, guard func(*run) error) (*ticket, error) {
	sess, err := o.lookup(op, sessionID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	r, err := o.liveRun(op, sess)
	if err != nil {
		return nil, err
	}
	if r.busy != "" {
		failuresTotal.WithLabelValues(op, string(apperr.KindBusy)).Inc()
		return nil, apperr.Busy(op)
	}
	if guard != nil {
		if err := guard(r); err != nil {
			o.recordError(r, op, err)
			return nil, err
		}
	}
	r.busy = op
	return &ticket{
		op:      op,
		run:     r,
		sess:    sess,
		epoch:   r.epoch,
		stage:   r.stage,
		started: o.now(),
	}, nil
}

// finish releases the run and applies the result, unless the run moved on
// while the call was in flight, in which case the result is discarded.
func (o *Orchestrator) finish(ctx context.Context, t *ticket, callErr error, apply func(*run)) error {
	operationDuration.WithLabelValues(t.op).Observe(o.now().Sub(t.started).Seconds())

	evt, err := o.commit(t, callErr, apply)
	if evt != nil {
		o.emit(ctx, SubjectStage, evt)
	}
	return err
}

func (o *Orchestrator) commit(t *ticket, callErr error, apply func(*run)) (*StageEvent, error) {
	_, sessErr := o.sessions.Lookup(t.sess.ID)

	o.mu.Lock()
	defer o.mu.Unlock()

	r := t.run
	if r.busy == t.op {
		r.busy = ""
	}
	if current, ok := o.runs[t.sess.ID]; !ok || current != r || r.epoch != t.epoch || r.stage != t.stage || sessErr != nil {
		failuresTotal.WithLabelValues(t.op, string(apperr.KindAbandoned)).Inc()
		o.logger.Info().Str("op", t.op).Str("run_id", r.id.String()).AnErr("call_error", callErr).Msg("discarding result for abandoned run")
		return nil, apperr.Abandoned(t.op)
	}
	if callErr != nil {
		o.recordError(r, t.op, callErr)
		return nil, callErr
	}
	from := r.stage
	if apply != nil {
		apply(r)
	}
	return o.transitioned(r, t.op, from), nil
}

// transitioned finalises a committed change made to r. Caller holds o.mu.
func (o *Orchestrator) transitioned(r *run, op string, from Stage) *StageEvent {
	r.epoch++
	r.lastErr = nil
	r.updatedAt = o.now().UTC()
	if from == r.stage {
		return nil
	}
	transitionsTotal.WithLabelValues(string(from), string(r.stage)).Inc()
	o.logger.Debug().Str("run_id", r.id.String()).Str("op", op).Str("from", string(from)).Str("to", string(r.stage)).Msg("transition")
	return &StageEvent{RunID: r.id, Login: r.login, Op: op, From: from, To: r.stage, At: r.updatedAt}
}

// recordError stores err on the run. Caller holds o.mu.
func (o *Orchestrator) recordError(r *run, op string, err error) {
	kind := apperr.KindOf(err)
	failuresTotal.WithLabelValues(op, string(kind)).Inc()
	r.lastErr = &ErrorView{Op: op, Kind: string(kind), Message: apperr.MessageOf(err), At: o.now().UTC()}
	o.logger.Debug().Err(err).Str("op", op).Str("run_id", r.id.String()).Msg("workflow operation failed")
}

// mutate applies a local, call-free change to the session's run. fn must leave
// the run untouched when it returns an error.
func (o *Orchestrator) mutate(ctx context.Context, op, sessionID string, fn func(*run) error) error {
	sess, err := o.lookup(op, sessionID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	r, err := o.liveRun(op, sess)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if r.busy != "" {
		o.mu.Unlock()
		failuresTotal.WithLabelValues(op, string(apperr.KindBusy)).Inc()
		return apperr.Busy(op)
	}
	var evt *StageEvent
	from := r.stage
	opErr := fn(r)
	if opErr != nil {
		o.recordError(r, op, opErr)
	} else {
		evt = o.transitioned(r, op, from)
	}
	o.mu.Unlock()

	if evt != nil {
		o.emit(ctx, SubjectStage, evt)
	}
	return opErr
}

// hostingContext bounds a hosting call. Cancellation of the caller does not
// reach the provider; late results are filtered by finish instead.
func (o *Orchestrator) hostingContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}
