// Package ghaction provides access to the context of a GitHub Actions
// workflow run and reports results as workflow commands.
package ghaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sethvargo/go-githubactions"
	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/autorebase"
	"github.com/simplesurance/autobase/internal/logfields"
)

const loggerName = "ghaction"

// errUnsupportedEventMsg is reported when the workflow was triggered by an
// event that is not processed.
var errUnsupportedEventMsg = errors.New("This action only supports pull_request and check_suite events.") //nolint:stylecheck // shown in the workflow run

// Dispatcher processes a trigger event.
type Dispatcher interface {
	Dispatch(ctx context.Context, repo autorebase.Repository, ev autorebase.TriggerEvent) (*autorebase.Outcome, error)
}

// Context is the part of the workflow run context that is required to
// process the triggering event.
type Context struct {
	EventName  string
	Repository autorebase.Repository
	// Payload is the JSON payload of the event that triggered the
	// workflow.
	Payload    []byte
	APIURL     string
	GraphQLURL string
}

// Runtime is the GitHub Actions runtime environment.
type Runtime struct {
	action *githubactions.Action
	logger *zap.Logger
}

func New(opts ...githubactions.Option) *Runtime {
	return &Runtime{
		action: githubactions.New(opts...),
		logger: zap.L().Named(loggerName),
	}
}

// Context reads the workflow context from the environment and the event
// payload file.
func (r *Runtime) Context() (*Context, error) {
	ghCtx, err := r.action.Context()
	if err != nil {
		return nil, fmt.Errorf("reading workflow context failed: %w", err)
	}

	if ghCtx.EventName == "" {
		return nil, errors.New("GITHUB_EVENT_NAME environment variable is not set")
	}

	if ghCtx.EventPath == "" {
		return nil, errors.New("GITHUB_EVENT_PATH environment variable is not set")
	}

	repo, err := parseRepository(ghCtx.Repository)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(ghCtx.Event)
	if err != nil {
		return nil, fmt.Errorf("marshaling event payload failed: %w", err)
	}

	return &Context{
		EventName:  ghCtx.EventName,
		Repository: repo,
		Payload:    payload,
		APIURL:     ghCtx.APIURL,
		GraphQLURL: ghCtx.GraphqlURL,
	}, nil
}

// parseRepository parses a repository in the owner/name format of the
// GITHUB_REPOSITORY environment variable.
func parseRepository(s string) (autorebase.Repository, error) {
	owner, name, found := strings.Cut(s, "/")
	if !found {
		return autorebase.Repository{}, fmt.Errorf("GITHUB_REPOSITORY environment variable %q is not in the format <OWNER>/<NAME>", s)
	}

	repo, err := autorebase.NewRepository(owner, name)
	if err != nil {
		return autorebase.Repository{}, fmt.Errorf("GITHUB_REPOSITORY environment variable %q is invalid: %w", s, err)
	}

	return repo, nil
}

// SetFailed writes an error workflow command for err.
// It marks the step as failed when the process exits with a non-zero code.
func (r *Runtime) SetFailed(err error) {
	r.action.Errorf("%s", err)
}

// ReportOutcome writes an error workflow command for every failed branch
// update and a notice for every rebased pull request.
// It returns true if a branch update failed.
func (r *Runtime) ReportOutcome(outcome *autorebase.Outcome) (failed bool) {
	for _, rebase := range outcome.Rebased() {
		r.action.Noticef("rebased PR #%d: %s", rebase.Number, rebase.URL)
	}

	for _, f := range outcome.UpdateFailures() {
		r.action.Errorf("%s", f)
	}

	return outcome.Failed()
}

// Run processes the event of the workflow run described by ghCtx with d,
// reports the outcome as workflow commands and returns the exit code of
// the action.
// The exit code is 1 when the event is unsupported or can not be parsed,
// when processing it failed or when a branch update failed. Otherwise it
// is 0, also when the event was ignored or no pull request was rebased.
func (r *Runtime) Run(ctx context.Context, ghCtx *Context, d Dispatcher) int {
	logger := r.logger.With(ghCtx.Repository.LogFields()...).With(logfields.GithubEventType(ghCtx.EventName))

	ev, err := autorebase.EventFromWebhook(ghCtx.EventName, ghCtx.Payload)
	if err != nil {
		logger.Error("parsing event failed", logfields.Event("event_parsing_failed"), zap.Error(err))
		r.SetFailed(err)
		return 1
	}

	outcome, err := d.Dispatch(ctx, ghCtx.Repository, ev)
	failed := r.ReportOutcome(outcome)

	if err != nil {
		logger.Error("processing event failed", logfields.Event("event_processing_failed"), zap.Error(err))

		if errors.Is(err, autorebase.ErrUnsupportedEvent) {
			r.SetFailed(errUnsupportedEventMsg)
		} else {
			r.SetFailed(err)
		}

		return 1
	}

	if outcome.Ignored() {
		logger.Info("event processed, nothing to do",
			logfields.Event("event_processed"),
			zap.String("reason", outcome.IgnoreReason),
		)
	}

	if failed {
		return 1
	}

	return 0
}
