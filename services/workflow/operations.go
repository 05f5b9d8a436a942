package workflow

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"casegen/pkg/apperr"
	"casegen/services/generation"
	"casegen/services/hosting"
	"casegen/services/session"
)

const (
	defaultTestDir       = "tests"
	defaultLanguage      = "JavaScript"
	pullRequestTitleStem = "AI-generated test cases: "
)

// PublishOptions overrides the defaults of a publish. Empty fields fall back
// to the repository default branch, tests/<file name>, the generated code and
// the default commit message.
type PublishOptions struct {
	BaseBranch    string
	FilePath      string
	Code          string
	CommitMessage string
}

// Login verifies credential with the hosting provider, creates a session and
// starts its run at Authenticated.
func (o *Orchestrator) Login(ctx context.Context, credential string) (string, session.Identity, error) {
	const op = "workflow.Login"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	if strings.TrimSpace(credential) == "" {
		return "", session.Identity{}, apperr.Auth(op, "credential is required")
	}

	callCtx, cancel := o.hostingContext(ctx, o.authTimeout)
	user, err := o.hosting.Authenticate(callCtx, credential)
	cancel()
	if err != nil {
		span.RecordError(err)
		failuresTotal.WithLabelValues(op, string(apperr.KindOf(err))).Inc()
		return "", session.Identity{}, err
	}

	owner := session.Identity{Login: user.Login, DisplayName: user.Name, AvatarURL: user.AvatarURL}
	id, err := o.sessions.Create(owner, credential)
	if err != nil {
		return "", session.Identity{}, apperr.Wrap(apperr.KindInternal, op, err)
	}

	o.mu.Lock()
	r := o.runFor(session.Session{ID: id, Owner: owner})
	evt := &StageEvent{RunID: r.id, Login: owner.Login, Op: op, From: StageUnauthenticated, To: r.stage, At: r.updatedAt}
	o.mu.Unlock()

	transitionsTotal.WithLabelValues(string(StageUnauthenticated), string(StageAuthenticated)).Inc()
	o.emit(ctx, SubjectStage, evt)
	o.logger.Info().Str("login", owner.Login).Str("run_id", evt.RunID.String()).Msg("session created")
	return id, owner, nil
}

// Logout ends the session and discards its run. Unknown sessions are ignored.
func (o *Orchestrator) Logout(ctx context.Context, sessionID string) {
	const op = "workflow.Logout"
	o.sessions.Delete(sessionID)

	o.mu.Lock()
	var evt *StageEvent
	if r, ok := o.runs[sessionID]; ok {
		r.epoch++
		delete(o.runs, sessionID)
		activeRuns.Set(float64(len(o.runs)))
		transitionsTotal.WithLabelValues(string(r.stage), string(StageUnauthenticated)).Inc()
		evt = &StageEvent{RunID: r.id, Login: r.login, Op: op, From: r.stage, To: StageUnauthenticated, At: o.now().UTC()}
	}
	o.mu.Unlock()

	if evt != nil {
		o.emit(ctx, SubjectStage, evt)
	}
}

// ListRepositories lists the repositories visible to the session.
func (o *Orchestrator) ListRepositories(ctx context.Context, sessionID string) ([]hosting.RepositoryRef, error) {
	const op = "workflow.ListRepositories"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	t, err := o.begin(op, sessionID, nil)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := o.hostingContext(ctx, o.hostingTimeout)
	repos, callErr := o.hosting.ListRepositories(callCtx, t.sess.Credential)
	cancel()

	if err := o.finish(ctx, t, callErr, nil); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return repos, nil
}

// SelectRepository loads owner/repo and its code files, discarding any earlier
// selection. It is accepted from every authenticated stage.
func (o *Orchestrator) SelectRepository(ctx context.Context, sessionID, owner, name string) ([]hosting.FileRef, error) {
	const op = "workflow.SelectRepository"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	t, err := o.begin(op, sessionID, func(*run) error {
		owner, name = strings.TrimSpace(owner), strings.TrimSpace(name)
		return validRepository(op, owner, name)
	})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := o.hostingContext(ctx, o.hostingTimeout)
	ref, callErr := o.hosting.Repository(callCtx, t.sess.Credential, owner, name)
	var files []hosting.FileRef
	if callErr == nil {
		files, callErr = o.hosting.ListCodeFilesAt(callCtx, t.sess.Credential, owner, name, ref.DefaultBranch)
	}
	cancel()

	err = o.finish(ctx, t, callErr, func(r *run) {
		r.resetTo(StageAuthenticated)
		r.repo = &ref
		r.files = files
		r.fileIndex = indexFiles(files)
		r.stage = StageRepoSelected
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return files, nil
}

// ToggleFile adds path to the selection, or removes it if already present.
// Summaries and code derived from the old selection are discarded.
func (o *Orchestrator) ToggleFile(ctx context.Context, sessionID, filePath string) ([]string, error) {
	const op = "workflow.ToggleFile"
	var selected []string
	err := o.mutate(ctx, op, sessionID, func(r *run) error {
		if err := requireKnownFiles(op, r, filePath); err != nil {
			return err
		}
		r.resetTo(StageFilesSelected)
		if _, ok := r.selected[filePath]; ok {
			delete(r.selected, filePath)
		} else {
			r.selected[filePath] = struct{}{}
		}
		r.stage = r.selectionStage()
		selected = r.selectedPaths()
		return nil
	})
	return selected, err
}

// SetSelection replaces the selection with paths.
func (o *Orchestrator) SetSelection(ctx context.Context, sessionID string, paths []string) ([]string, error) {
	const op = "workflow.SetSelection"
	var selected []string
	err := o.mutate(ctx, op, sessionID, func(r *run) error {
		if err := requireKnownFiles(op, r, paths...); err != nil {
			return err
		}
		r.resetTo(StageFilesSelected)
		r.selected = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			r.selected[p] = struct{}{}
		}
		r.stage = r.selectionStage()
		selected = r.selectedPaths()
		return nil
	})
	return selected, err
}

func requireKnownFiles(op string, r *run, paths ...string) error {
	if r.repo == nil {
		return apperr.Validation(op, "select a repository first")
	}
	return knownFiles(op, r.fileIndex, paths...)
}

func knownFiles(op string, index map[string]hosting.FileRef, paths ...string) error {
	for _, p := range paths {
		if _, ok := index[p]; !ok {
			return apperr.Validation(op, fmt.Sprintf("unknown file %q", p))
		}
	}
	return nil
}

func validRepository(op, owner, name string) error {
	if owner == "" || name == "" || strings.Contains(owner, "/") || strings.Contains(name, "/") {
		return apperr.Validation(op, "repository must be given as owner and name")
	}
	return nil
}

// RequestSummaries reads the selected files and asks for test summaries. The
// selection must hold between one and the configured maximum of files.
func (o *Orchestrator) RequestSummaries(ctx context.Context, sessionID string) ([]generation.TestSummary, error) {
	return o.summarize(ctx, "workflow.RequestSummaries", sessionID, "", "", nil)
}

// RequestSummariesFor selects owner/repo when it is not the run's repository,
// replaces the selection with paths when paths is non-nil, and asks for
// summaries, all as one transition. On any failure the run keeps its stage,
// selection and summaries.
func (o *Orchestrator) RequestSummariesFor(ctx context.Context, sessionID, owner, name string, paths []string) ([]generation.TestSummary, error) {
	const op = "workflow.RequestSummariesFor"
	owner, name = strings.TrimSpace(owner), strings.TrimSpace(name)
	if err := validRepository(op, owner, name); err != nil {
		return nil, err
	}
	return o.summarize(ctx, op, sessionID, owner, name, paths)
}

// summarize backs both summary operations. An empty owner means the run's
// current repository and nil paths the run's current selection.
func (o *Orchestrator) summarize(ctx context.Context, op, sessionID, owner, name string, paths []string) ([]generation.TestSummary, error) {
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	var (
		repo     hosting.RepositoryRef
		index    map[string]hosting.FileRef
		loaded   bool
		selected = uniquePaths(paths)
	)
	t, err := o.begin(op, sessionID, func(r *run) error {
		switch {
		case owner == "":
			if r.repo == nil {
				return apperr.Validation(op, "select a repository first")
			}
			loaded = true
		case r.repo != nil && strings.EqualFold(r.repo.Owner, owner) && strings.EqualFold(r.repo.Name, name):
			loaded = true
		}
		if paths == nil && loaded {
			selected = r.selectedPaths()
		}
		if err := o.checkSelectionSize(op, len(selected)); err != nil {
			return err
		}
		if !loaded {
			return nil
		}
		repo, index = *r.repo, r.fileIndex
		return knownFiles(op, index, selected...)
	})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := o.hostingContext(ctx, o.hostingTimeout)
	var (
		files   []hosting.FileRef
		callErr error
	)
	if !loaded {
		repo, callErr = o.hosting.Repository(callCtx, t.sess.Credential, owner, name)
		if callErr == nil {
			files, callErr = o.hosting.ListCodeFilesAt(callCtx, t.sess.Credential, owner, name, repo.DefaultBranch)
		}
		if callErr == nil {
			index = indexFiles(files)
			callErr = knownFiles(op, index, selected...)
		}
	}
	contents := make([]generation.FileContent, 0, len(selected))
	for _, p := range selected {
		if callErr != nil {
			break
		}
		f := index[p]
		var text string
		text, callErr = o.hosting.ReadFile(callCtx, t.sess.Credential, repo.Owner, repo.Name, f.Path, repo.DefaultBranch)
		contents = append(contents, generation.FileContent{Path: f.Path, Language: f.Language, Content: text})
	}
	cancel()

	var summaries []generation.TestSummary
	if callErr == nil {
		summaries, callErr = o.generator.Summarize(context.WithoutCancel(ctx), contents, primaryLanguage(repo))
	}

	err = o.finish(ctx, t, callErr, func(r *run) {
		if !loaded {
			r.resetTo(StageAuthenticated)
			r.repo = &repo
			r.files = files
			r.fileIndex = index
		}
		r.resetTo(StageRepoSelected)
		for _, p := range selected {
			r.selected[p] = struct{}{}
		}
		r.contents = contents
		r.summaries = summaries
		r.stage = StageSummariesReady
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return summaries, nil
}

func (o *Orchestrator) checkSelectionSize(op string, n int) error {
	switch {
	case n == 0:
		return apperr.Validation(op, "at least one file required")
	case n > o.maxSelected:
		return apperr.Validation(op, fmt.Sprintf("at most %d files can be selected, got %d", o.maxSelected, n))
	}
	return nil
}

// uniquePaths returns the distinct paths in sorted order.
func uniquePaths(paths []string) []string {
	set := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := set[p]; ok {
			continue
		}
		set[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ChooseSummary generates test code for the summary identified by key, which
// matches a summary id or, failing that, its title within the last result set.
func (o *Orchestrator) ChooseSummary(ctx context.Context, sessionID, key string) (generation.Artifact, error) {
	const op = "workflow.ChooseSummary"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	var (
		summary  generation.TestSummary
		contents []generation.FileContent
		language string
	)
	t, err := o.begin(op, sessionID, func(r *run) error {
		if len(r.summaries) == 0 {
			return apperr.Validation(op, "generate summaries first")
		}
		found, ok := findSummary(r.summaries, key)
		if !ok {
			return apperr.Validation(op, fmt.Sprintf("summary %q is not in the current result set", key))
		}
		summary = found
		contents = r.contents
		language = codeLanguage(found, r.contents, primaryLanguage(*r.repo))
		return nil
	})
	if err != nil {
		return generation.Artifact{}, err
	}

	artifact, callErr := o.generator.GenerateCode(context.WithoutCancel(ctx), summary, contents, language)

	committed := &artifact
	err = o.finish(ctx, t, callErr, func(r *run) {
		r.resetTo(StageSummariesReady)
		r.chosen = &summary
		r.artifact = committed
		r.stage = StageCodeReady
	})
	if err != nil {
		span.RecordError(err)
		return generation.Artifact{}, err
	}

	o.archiveArtifact(ctx, t, committed)
	return artifact, nil
}

func findSummary(summaries []generation.TestSummary, key string) (generation.TestSummary, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return generation.TestSummary{}, false
	}
	for _, s := range summaries {
		if s.ID == key {
			return s, true
		}
	}
	for _, s := range summaries {
		if strings.EqualFold(s.Title, key) {
			return s, true
		}
	}
	return generation.TestSummary{}, false
}

// archiveArtifact stores generated code when an archive is configured.
// Failures are logged only.
func (o *Orchestrator) archiveArtifact(ctx context.Context, t *ticket, artifact *generation.Artifact) {
	if o.archive == nil {
		return
	}
	key := fmt.Sprintf("artifacts/%s/%s", t.run.id, artifact.FileName)
	callCtx, cancel := o.hostingContext(ctx, o.hostingTimeout)
	digest, err := o.archive.PutArtifact(callCtx, key, []byte(artifact.Code), "text/plain; charset=utf-8")
	cancel()
	if err != nil {
		o.logger.Warn().Err(err).Str("key", key).Msg("archive generated artifact")
		return
	}

	o.mu.Lock()
	if r, ok := o.runs[t.sess.ID]; ok && r.artifact == artifact {
		r.artifactKey = key
	}
	o.mu.Unlock()
	o.logger.Debug().Str("key", key).Str("sha256", digest).Msg("artifact archived")
}

// Publish opens a pull request carrying the generated test file.
func (o *Orchestrator) Publish(ctx context.Context, sessionID string, opts PublishOptions) (PublicationView, error) {
	const op = "workflow.Publish"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	var (
		req     hosting.PublishRequest
		summary generation.TestSummary
		runID   string
		login   string
	)
	t, err := o.begin(op, sessionID, func(r *run) error {
		if r.stage == StagePublished {
			return apperr.Validation(op, "this test file was already published; choose a summary to generate new code")
		}
		if r.stage != StageCodeReady || r.artifact == nil || r.chosen == nil {
			return apperr.Validation(op, "generate test code before publishing")
		}
		filePath, err := publishPath(op, opts.FilePath, r.artifact.FileName)
		if err != nil {
			return err
		}
		code := r.artifact.Code
		if strings.TrimSpace(opts.Code) != "" {
			code = opts.Code
		}
		base := strings.TrimSpace(opts.BaseBranch)
		if base == "" {
			base = r.repo.DefaultBranch
		}
		summary = *r.chosen
		runID = r.id.String()
		login = r.login
		req = hosting.PublishRequest{
			Owner:         r.repo.Owner,
			Repo:          r.repo.Name,
			BaseBranch:    base,
			Path:          filePath,
			Content:       code,
			CommitMessage: opts.CommitMessage,
			Title:         pullRequestTitleStem + summary.Title,
			Body:          pullRequestBody(summary, *r.artifact),
		}
		return nil
	})
	if err != nil {
		return PublicationView{}, err
	}

	callCtx, cancel := o.hostingContext(ctx, o.hostingTimeout)
	res, callErr := o.hosting.PublishTestFile(callCtx, t.sess.Credential, req)
	cancel()

	pub := PublicationView{
		URL:        res.URL,
		Number:     res.Number,
		Branch:     res.Branch,
		BaseBranch: req.BaseBranch,
		FilePath:   req.Path,
		CommitSHA:  res.CommitSHA,
		At:         o.now().UTC(),
	}
	err = o.finish(ctx, t, callErr, func(r *run) {
		r.publication = &pub
		r.stage = StagePublished
	})
	if err != nil {
		span.RecordError(err)
		return PublicationView{}, err
	}

	o.logger.Info().Str("run_id", runID).Str("login", login).Str("url", pub.URL).Msg("test file published")
	o.emit(ctx, SubjectPublished, PublishedEvent{
		RunID:             t.run.id,
		Login:             login,
		Owner:             req.Owner,
		Repo:              req.Repo,
		Branch:            pub.Branch,
		BaseBranch:        pub.BaseBranch,
		FilePath:          pub.FilePath,
		PullRequestURL:    pub.URL,
		PullRequestNumber: pub.Number,
		Summary:           summary,
		PublishedAt:       pub.At,
	})
	return pub, nil
}

func publishPath(op, requested, fileName string) (string, error) {
	p := strings.TrimLeft(strings.TrimSpace(requested), "/")
	if p == "" {
		return path.Join(defaultTestDir, fileName), nil
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasSuffix(p, "/") {
		return "", apperr.Validation(op, fmt.Sprintf("invalid file path %q", requested))
	}
	return clean, nil
}

func pullRequestBody(summary generation.TestSummary, artifact generation.Artifact) string {
	var b strings.Builder
	b.WriteString(summary.Description)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "- Framework: %s\n", artifact.Framework)
	fmt.Fprintf(&b, "- Category: %s\n", summary.Category)
	fmt.Fprintf(&b, "- Test cases: %d\n", summary.TestCount)
	fmt.Fprintf(&b, "- Covers: %s\n", strings.Join(summary.Files, ", "))
	if artifact.Fallback {
		b.WriteString("\nThe generation backend was unavailable; this file is a skeleton to fill in.\n")
	}
	return b.String()
}

// Rewind moves the run back to target, discarding everything produced after
// it. Rewinding to FilesSelected with an empty selection lands on RepoSelected.
func (o *Orchestrator) Rewind(ctx context.Context, sessionID string, target Stage) (Stage, error) {
	const op = "workflow.Rewind"
	var landed Stage
	err := o.mutate(ctx, op, sessionID, func(r *run) error {
		if _, ok := stageOrder[target]; !ok || target.Before(StageAuthenticated) {
			return apperr.Validation(op, fmt.Sprintf("cannot rewind to %q", target))
		}
		if r.stage.Before(target) {
			return apperr.Validation(op, fmt.Sprintf("cannot move forward from %s to %s", r.stage, target))
		}
		r.resetTo(target)
		if target == StageRepoSelected || target == StageFilesSelected {
			r.stage = r.selectionStage()
		}
		landed = r.stage
		return nil
	})
	return landed, err
}

// Restart discards the run's progress and returns it to Authenticated.
func (o *Orchestrator) Restart(ctx context.Context, sessionID string) error {
	_, err := o.Rewind(ctx, sessionID, StageAuthenticated)
	return err
}

// PruneRuns drops runs whose sessions no longer exist and returns how many
// were dropped. It is meant to follow a session sweep.
func (o *Orchestrator) PruneRuns() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	pruned := 0
	for id, r := range o.runs {
		if _, err := o.sessions.Lookup(id); err != nil {
			r.epoch++
			delete(o.runs, id)
			pruned++
		}
	}
	activeRuns.Set(float64(len(o.runs)))
	if pruned > 0 {
		o.logger.Info().Int("pruned", pruned).Msg("dropped runs of expired sessions")
	}
	return pruned
}

func indexFiles(files []hosting.FileRef) map[string]hosting.FileRef {
	index := make(map[string]hosting.FileRef, len(files))
	for _, f := range files {
		index[f.Path] = f
	}
	return index
}

func primaryLanguage(repo hosting.RepositoryRef) string {
	if repo.PrimaryLanguage != "" {
		return repo.PrimaryLanguage
	}
	return defaultLanguage
}

// codeLanguage picks the language of the first covered file with a known
// language, falling back to the repository language.
func codeLanguage(summary generation.TestSummary, contents []generation.FileContent, fallback string) string {
	for _, name := range summary.Files {
		for _, c := range contents {
			if path.Base(c.Path) == name && c.Language != "" && c.Language != "Unknown" {
				return c.Language
			}
		}
	}
	return fallback
}
