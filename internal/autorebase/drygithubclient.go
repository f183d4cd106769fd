package autorebase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/githubclt"
	"github.com/simplesurance/autobase/internal/logfields"
)

// DryGithubClient is a github-client that does not do any changes on github.
// Branch updates are simulated and always succeed, all read operations are
// forwarded to the wrapped GithubClient.
type DryGithubClient struct {
	clt    GithubClient
	logger *zap.Logger
}

func NewDryGithubClient(clt GithubClient, logger *zap.Logger) *DryGithubClient {
	return &DryGithubClient{
		clt:    clt,
		logger: logger.Named("dry_github_client"),
	}
}

func (c *DryGithubClient) UpdateBranch(_ context.Context, owner, repo string, number int, expectedHeadSHA string) (*githubclt.UpdateBranchResult, error) {
	c.logger.Info(
		"simulated updating of github branch",
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(number),
		logfields.Commit(expectedHeadSHA),
	)

	return &githubclt.UpdateBranchResult{
		Message: "dry run, branch was not updated",
		URL:     fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, number),
	}, nil
}

func (c *DryGithubClient) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	return c.clt.DefaultBranch(ctx, owner, repo)
}

func (c *DryGithubClient) ListPullRequests(ctx context.Context, owner, repo, baseBranch string) ([]*githubclt.PullRequestSummary, error) {
	return c.clt.ListPullRequests(ctx, owner, repo, baseBranch)
}

func (c *DryGithubClient) PullRequest(ctx context.Context, owner, repo string, number int) (*githubclt.PullRequestDetail, error) {
	return c.clt.PullRequest(ctx, owner, repo, number)
}

func (c *DryGithubClient) ListReviews(ctx context.Context, owner, repo string, number int) ([]*githubclt.Review, error) {
	return c.clt.ListReviews(ctx, owner, repo, number)
}
