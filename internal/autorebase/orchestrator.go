package autorebase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/githubclt"
	"github.com/simplesurance/autobase/internal/logfields"
)

const loggerName = "autorebase"

// Orchestrator selects the oldest eligible pull request of a base branch and
// requests a rebase of its branch.
type Orchestrator struct {
	ghClient          GithubClient
	retryer           Retryer
	label             string
	requiredApprovals int
	logger            *zap.Logger
}

// NewOrchestrator returns an Orchestrator that only considers pull requests
// labeled with label and, if requiredApprovals is bigger than 0, that have
// at least requiredApprovals approving reviews.
func NewOrchestrator(ghClient GithubClient, retryer Retryer, label string, requiredApprovals int) *Orchestrator {
	return &Orchestrator{
		ghClient:          ghClient,
		retryer:           retryer,
		label:             label,
		requiredApprovals: requiredApprovals,
		logger:            zap.L().Named(loggerName).Named("orchestrator"),
	}
}

// RebaseNext runs a single pass for baseBranch.
// The open pull requests are evaluated in creation order, the first one that
// passes all gates gets its branch updated. When the update fails the error
// is recorded in PassResult.UpdateFailures and the next pull request is
// evaluated.
// Errors from fetching pull request information are returned, the pass is
// aborted then.
func (o *Orchestrator) RebaseNext(ctx context.Context, repo Repository, baseBranch string) (*PassResult, error) {
	logger := o.logger.With(repo.LogFields()...).With(
		logfields.BaseBranch(baseBranch),
		logfields.Label(o.label),
	)

	result := PassResult{BaseBranch: baseBranch}

	var prs []*githubclt.PullRequestSummary
	err := o.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		prs, err = o.ghClient.ListPullRequests(ctx, repo.Owner, repo.Name, baseBranch)
		return err
	}, append(repo.LogFields(), logfields.BaseBranch(baseBranch), logfields.Event("github_list_pull_requests")))
	if err != nil {
		return nil, fmt.Errorf("listing open pull requests with base branch %q failed: %w", baseBranch, err)
	}

	for _, pr := range prs {
		result.Evaluated = append(result.Evaluated, pr.Number)
	}

	logger.Info(
		"evaluating the following pull requests: "+formatPRNumbers(result.Evaluated),
		logfields.Event("evaluating_candidates"),
		logfields.PullRequests(result.Evaluated),
	)

	for _, pr := range prs {
		logger := logger.With(logfields.PullRequest(pr.Number))

		skip, err := o.evaluate(ctx, logger, repo, pr)
		if err != nil {
			return nil, err
		}

		if skip != nil {
			result.Skipped = append(result.Skipped, skip)
			metrics.SkipInc(repo, skip.Reason)
			continue
		}

		res, err := o.updateBranch(ctx, repo, pr)
		if err != nil {
			logger.Error(
				"rebasing pull request failed",
				logEventRebaseFailed,
				logfields.Commit(pr.HeadSHA),
				zap.Error(err),
			)

			result.UpdateFailures = append(result.UpdateFailures, &UpdateFailure{Number: pr.Number, Err: err})
			metrics.BranchUpdateInc(repo, updateResultFailureVal)
			continue
		}

		result.Rebased = &Rebase{
			Number:    pr.Number,
			HeadSHA:   pr.HeadSHA,
			URL:       res.URL,
			Scheduled: res.Scheduled,
		}
		metrics.BranchUpdateInc(repo, updateResultSuccessVal)

		logger.Info(
			"rebased pull request",
			logEventRebased,
			logfields.Commit(pr.HeadSHA),
			zap.String("github.update_url", res.URL),
			zap.Bool("github.update_scheduled", res.Scheduled),
		)

		return &result, nil
	}

	if len(prs) == 0 {
		logger.Info("no open pull requests for base branch", logfields.Event("no_candidates"))
	} else {
		logger.Info("no pull request was rebased", logfields.Event("no_candidate_rebased"))
	}

	return &result, nil
}

// evaluate checks if pr passes all gates.
// If it does not, a Skip describing the first failed gate is returned.
// The gates are checked in order of their cost, pull request details and
// reviews are only fetched when the cheaper gates passed.
func (o *Orchestrator) evaluate(ctx context.Context, logger *zap.Logger, repo Repository, pr *githubclt.PullRequestSummary) (*Skip, error) {
	if !pr.HasLabel(o.label) {
		return o.skip(logger, pr.Number, SkipReasonNotLabeled, fmt.Sprintf("is not labeled with %q", o.label)), nil
	}

	if pr.Draft {
		return o.skip(logger, pr.Number, SkipReasonDraft, "is a draft"), nil
	}

	var detail *githubclt.PullRequestDetail
	err := o.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		detail, err = o.ghClient.PullRequest(ctx, repo.Owner, repo.Name, pr.Number)
		return err
	}, append(repo.LogFields(), logfields.PullRequest(pr.Number), logfields.Event("github_get_pull_request")))
	if err != nil {
		return nil, fmt.Errorf("fetching details of pull request #%d failed: %w", pr.Number, err)
	}

	if detail.MergeableState != githubclt.MergeableStateBehind {
		return o.skip(
			logger.With(logfields.MergeableState(string(detail.MergeableState))),
			pr.Number,
			SkipReasonNotBehind,
			fmt.Sprintf("is not %q, mergeable state is %q", githubclt.MergeableStateBehind, detail.MergeableState),
		), nil
	}

	if !detail.Rebaseable {
		return o.skip(logger, pr.Number, SkipReasonNotRebaseable, "is not rebaseable"), nil
	}

	if o.requiredApprovals <= 0 {
		return nil, nil
	}

	var reviews []*githubclt.Review
	err = o.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		reviews, err = o.ghClient.ListReviews(ctx, repo.Owner, repo.Name, pr.Number)
		return err
	}, append(repo.LogFields(), logfields.PullRequest(pr.Number), logfields.Event("github_list_reviews")))
	if err != nil {
		return nil, fmt.Errorf("fetching reviews of pull request #%d failed: %w", pr.Number, err)
	}

	approvals := countApprovals(reviews)
	if approvals < o.requiredApprovals {
		return o.skip(
			logger.With(zap.Int("approvals", approvals), zap.Int("required_approvals", o.requiredApprovals)),
			pr.Number,
			SkipReasonInsufficientApprovals,
			fmt.Sprintf("requires %d approvals, but only has %d", o.requiredApprovals, approvals),
		), nil
	}

	return nil, nil
}

func (o *Orchestrator) skip(logger *zap.Logger, prNumber int, reason SkipReason, detail string) *Skip {
	s := Skip{Number: prNumber, Reason: reason, Detail: detail}

	logger.Info(
		"skipping pull request, "+detail,
		logEventCandidateSkipped,
		logFieldReason(string(reason)),
	)

	return &s
}

// updateBranch requests the update of the pull request branch.
// Transient errors are retried, except githubclt.ErrHeadChanged, when the
// branch changed the pull request has to be evaluated again.
func (o *Orchestrator) updateBranch(ctx context.Context, repo Repository, pr *githubclt.PullRequestSummary) (*githubclt.UpdateBranchResult, error) {
	var res *githubclt.UpdateBranchResult

	err := o.retryer.Run(ctx, func(ctx context.Context) error {
		var err error
		res, err = o.ghClient.UpdateBranch(ctx, repo.Owner, repo.Name, pr.Number, pr.HeadSHA)
		return err
	}, append(repo.LogFields(), logfields.PullRequest(pr.Number), logfields.Event("github_update_branch")))
	if err != nil {
		return nil, err
	}

	return res, nil
}

func countApprovals(reviews []*githubclt.Review) int {
	var cnt int

	for _, r := range reviews {
		if r.State == githubclt.ReviewStateApproved {
			cnt++
		}
	}

	return cnt
}
