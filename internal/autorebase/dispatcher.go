package autorebase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/githubclt"
	"github.com/simplesurance/autobase/internal/logfields"
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Label that pull requests must have to be rebased.
	Label string
	// RequiredApprovals is the number of approving reviews a pull
	// request requires to be rebased, 0 disables the check.
	RequiredApprovals int
	// BaseBranch is the branch pull requests are rebased onto.
	// If empty the default branch of the repository is used.
	BaseBranch string
}

// Dispatcher decides if a TriggerEvent causes rebase passes and runs them.
type Dispatcher struct {
	cfg          DispatcherConfig
	ghClient     GithubClient
	retryer      Retryer
	orchestrator *Orchestrator
	logger       *zap.Logger
}

func NewDispatcher(ghClient GithubClient, retryer Retryer, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		cfg:          cfg,
		ghClient:     ghClient,
		retryer:      retryer,
		orchestrator: NewOrchestrator(ghClient, retryer, cfg.Label, cfg.RequiredApprovals),
		logger:       zap.L().Named(loggerName).Named("dispatcher"),
	}
}

// Dispatch processes event for repo.
//
// A merged pull request of the base branch causes one rebase pass. A
// completed, not successful check suite causes one rebase pass per
// associated pull request that has the label.
//
// The returned Outcome is never nil, on error it contains the results of
// the passes that completed before the error happened.
// ErrUnsupportedEvent is returned for *UnsupportedEvent events.
func (d *Dispatcher) Dispatch(ctx context.Context, repo Repository, event TriggerEvent) (*Outcome, error) {
	var outcome *Outcome
	var err error

	if event == nil {
		return &Outcome{}, fmt.Errorf("%w: event is nil", ErrMissingPayload)
	}

	logger := d.logger.With(repo.LogFields()...).With(logfields.GithubEventType(event.EventType()))

	switch ev := event.(type) {
	case *PullRequestMerged:
		outcome, err = d.dispatchPullRequest(ctx, logger, repo, ev)

	case *CheckSuiteCompleted:
		outcome, err = d.dispatchCheckSuite(ctx, logger, repo, ev)

	default:
		metrics.EventInc(event.EventType(), eventResultUnsupportedVal)
		return &Outcome{EventType: event.EventType()}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, event.EventType())
	}

	switch {
	case err != nil:
		metrics.EventInc(event.EventType(), eventResultFailedVal)
	case outcome.Ignored():
		metrics.EventInc(event.EventType(), eventResultIgnoredVal)
	default:
		metrics.EventInc(event.EventType(), eventResultDispatchedVal)
	}

	return outcome, err
}

func (d *Dispatcher) dispatchPullRequest(ctx context.Context, logger *zap.Logger, repo Repository, ev *PullRequestMerged) (*Outcome, error) {
	outcome := Outcome{EventType: ev.EventType()}

	logger = logger.With(logfields.PullRequest(ev.Number), logfields.Branch(ev.BaseRef))

	if !ev.WasMerged {
		outcome.IgnoreReason = fmt.Sprintf("PR #%d was not merged", ev.Number)
		logger.Info(
			"ignoring event, pull request was not merged",
			logEventEventIgnored,
			zap.String("github.action", ev.Action),
		)
		return &outcome, nil
	}

	baseBranch, err := d.baseBranch(ctx, repo)
	if err != nil {
		return &outcome, err
	}
	outcome.BaseBranch = baseBranch

	if ev.BaseRef != baseBranch {
		outcome.IgnoreReason = fmt.Sprintf("PR #%d was merged into %q, not into %q", ev.Number, ev.BaseRef, baseBranch)
		logger.Info(
			"ignoring event, pull request was not merged into the base branch",
			logEventEventIgnored,
			logfields.BaseBranch(baseBranch),
		)
		return &outcome, nil
	}

	logger.Info(
		"pull request was merged into base branch, rebasing next pull request",
		logfields.Event("pull_request_merged"),
		logfields.BaseBranch(baseBranch),
	)

	res, err := d.orchestrator.RebaseNext(ctx, repo, baseBranch)
	if err != nil {
		return &outcome, err
	}
	outcome.Passes = append(outcome.Passes, res)

	return &outcome, nil
}

func (d *Dispatcher) dispatchCheckSuite(ctx context.Context, logger *zap.Logger, repo Repository, ev *CheckSuiteCompleted) (*Outcome, error) {
	outcome := Outcome{EventType: ev.EventType()}

	logger = logger.With(
		logfields.Commit(ev.HeadSHA),
		zap.String("github.check_suite.action", ev.Action),
		zap.String("github.check_suite.conclusion", ev.Conclusion),
	)

	if ev.Action != checkSuiteActionCompleted || ev.Conclusion == checkSuiteConclusionSuccess {
		outcome.IgnoreReason = fmt.Sprintf("check suite %s with conclusion %q", ev.Action, ev.Conclusion)
		logger.Info(
			"ignoring event, check suite did not complete unsuccessfully",
			logEventEventIgnored,
		)
		return &outcome, nil
	}

	if len(ev.PullRequests) == 0 {
		outcome.IgnoreReason = "no pull requests are associated with the check suite"
		logger.Info(
			"ignoring event, no pull requests are associated with the check suite",
			logEventEventIgnored,
		)
		return &outcome, nil
	}

	logger.Info(
		"check suite failed, evaluating associated pull requests",
		logfields.Event("check_suite_failed"),
		logfields.PullRequests(ev.PullRequests),
	)

	for _, prNumber := range ev.PullRequests {
		logger := logger.With(logfields.PullRequest(prNumber))

		var pr *githubclt.PullRequestDetail
		err := d.retryer.Run(ctx, func(ctx context.Context) error {
			var err error
			pr, err = d.ghClient.PullRequest(ctx, repo.Owner, repo.Name, prNumber)
			return err
		}, append(repo.LogFields(), logfields.PullRequest(prNumber), logfields.Event("github_get_pull_request")))
		if err != nil {
			return &outcome, fmt.Errorf("fetching details of pull request #%d failed: %w", prNumber, err)
		}

		if !pr.HasLabel(d.cfg.Label) {
			logger.Info(
				"skipping associated pull request, it is not labeled",
				logEventCandidateSkipped,
				logfields.Label(d.cfg.Label),
				logFieldReason(string(SkipReasonNotLabeled)),
			)
			continue
		}

		if outcome.BaseBranch == "" {
			outcome.BaseBranch, err = d.baseBranch(ctx, repo)
			if err != nil {
				return &outcome, err
			}
		}

		res, err := d.orchestrator.RebaseNext(ctx, repo, outcome.BaseBranch)
		if err != nil {
			return &outcome, err
		}
		outcome.Passes = append(outcome.Passes, res)
	}

	if outcome.Ignored() {
		outcome.IgnoreReason = "none of the associated pull requests is labeled"
	}

	return &outcome, nil
}

// baseBranch returns the configured base branch, if none is configured the
// default branch of the repository is retrieved.
func (d *Dispatcher) baseBranch(ctx context.Context, repo Repository) (string, error) {
	if d.cfg.BaseBranch != "" {
		return d.cfg.BaseBranch, nil
	}

	var branch string
	err := d.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		branch, err = d.ghClient.DefaultBranch(ctx, repo.Owner, repo.Name)
		return err
	}, append(repo.LogFields(), logfields.Event("github_get_default_branch")))
	if err != nil {
		return "", fmt.Errorf("retrieving default branch of %s failed: %w", repo, err)
	}

	if branch == "" {
		return "", errors.New("repository has no default branch")
	}

	return branch, nil
}
