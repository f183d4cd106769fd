package autorebase

import (
	"context"

	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/githubclt"
)

//go:generate mockgen -destination mocks/mock_githubclient.go -package mocks . GithubClient

// GithubClient is the subset of GitHub operations the autorebase components
// require. It is implemented by *githubclt.Client.
type GithubClient interface {
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
	ListPullRequests(ctx context.Context, owner, repo, baseBranch string) ([]*githubclt.PullRequestSummary, error)
	PullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequestDetail, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]*githubclt.Review, error)
	UpdateBranch(ctx context.Context, owner, repo string, number int, expectedHeadSHA string) (*githubclt.UpdateBranchResult, error)
}

// Retryer is an interface used for running GithubClient methods repeatedly if
// they fail with a temporary error.
type Retryer interface {
	Run(context.Context, func(context.Context) error, []zap.Field) error
}
