package workflow

import (
	"context"
	"strings"

	"casegen/pkg/apperr"
	"casegen/services/hosting"
)

// ReadFile returns the text of path in owner/repo on its default branch. It
// leaves the run's stage alone.
func (o *Orchestrator) ReadFile(ctx context.Context, sessionID, owner, name, filePath string) (string, error) {
	const op = "workflow.ReadFile"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	owner, name = strings.TrimSpace(owner), strings.TrimSpace(name)
	t, err := o.begin(op, sessionID, func(*run) error {
		if err := validRepository(op, owner, name); err != nil {
			return err
		}
		if strings.TrimSpace(filePath) == "" {
			return apperr.Validation(op, "path is required")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	callCtx, cancel := o.hostingContext(ctx, o.hostingTimeout)
	text, callErr := o.hosting.ReadFile(callCtx, t.sess.Credential, owner, name, filePath, "")
	cancel()

	if err := o.finish(ctx, t, callErr, nil); err != nil {
		span.RecordError(err)
		return "", err
	}
	return text, nil
}

// PullRequests lists the pull requests of owner/repo in state.
func (o *Orchestrator) PullRequests(ctx context.Context, sessionID, owner, name, state string) ([]hosting.PullRequestRef, error) {
	const op = "workflow.PullRequests"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	owner, name = strings.TrimSpace(owner), strings.TrimSpace(name)
	t, err := o.begin(op, sessionID, func(*run) error {
		return validRepository(op, owner, name)
	})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := o.hostingContext(ctx, o.hostingTimeout)
	prs, callErr := o.hosting.ListPullRequests(callCtx, t.sess.Credential, owner, name, state)
	cancel()

	if err := o.finish(ctx, t, callErr, nil); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return prs, nil
}

// PullRequest fetches one pull request of owner/repo.
func (o *Orchestrator) PullRequest(ctx context.Context, sessionID, owner, name string, number int) (hosting.PullRequestRef, error) {
	const op = "workflow.PullRequest"
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	owner, name = strings.TrimSpace(owner), strings.TrimSpace(name)
	t, err := o.begin(op, sessionID, func(*run) error {
		if err := validRepository(op, owner, name); err != nil {
			return err
		}
		if number < 1 {
			return apperr.Validation(op, "pull request number must be positive")
		}
		return nil
	})
	if err != nil {
		return hosting.PullRequestRef{}, err
	}

	callCtx, cancel := o.hostingContext(ctx, o.hostingTimeout)
	pr, callErr := o.hosting.PullRequest(callCtx, t.sess.Credential, owner, name, number)
	cancel()

	if err := o.finish(ctx, t, callErr, nil); err != nil {
		span.RecordError(err)
		return hosting.PullRequestRef{}, err
	}
	return pr, nil
}
