// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/autobase/internal/autobaseerr"
	"github.com/simplesurance/autobase/internal/logfields"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

const listPerPage = 100

var (
	// ErrHeadChanged is returned by UpdateBranch when the head commit of
	// the pull request branch differs from the expected one.
	ErrHeadChanged = errors.New("pull request head commit changed")
	// ErrMergeConflict is returned by UpdateBranch when the base branch
	// can not be applied to the pull request branch without conflicts.
	ErrMergeConflict = errors.New("merge conflict")
)

type Option func(*Client)

// WithUpdateMethod sets the update_method parameter of branch update
// requests. Supported by GitHub are "merge" and "rebase".
func WithUpdateMethod(method string) Option {
	return func(c *Client) {
		c.updateMethod = method
	}
}

// New returns a new github api client for github.com.
func New(oauthAPItoken string, opts ...Option) *Client {
	httpClient := newHTTPClient(oauthAPItoken)

	return newClient(
		github.NewClient(httpClient),
		githubv4.NewClient(httpClient),
		opts...,
	)
}

// NewEnterprise returns a client for a GitHub Enterprise Server instance.
// apiURL is the base URL of the REST API, graphQLURL the URL of the GraphQL
// endpoint.
func NewEnterprise(oauthAPItoken, apiURL, graphQLURL string, opts ...Option) (*Client, error) {
	if graphQLURL == "" {
		return nil, errors.New("graphql url is empty")
	}

	httpClient := newHTTPClient(oauthAPItoken)

	restClt, err := github.NewClient(httpClient).WithEnterpriseURLs(apiURL, apiURL)
	if err != nil {
		return nil, fmt.Errorf("creating enterprise rest client failed: %w", err)
	}

	return newClient(
		restClt,
		githubv4.NewEnterpriseClient(graphQLURL, httpClient),
		opts...,
	), nil
}

func newClient(restClt *github.Client, graphQLClt *githubv4.Client, opts ...Option) *Client {
	clt := Client{
		restClt:      restClt,
		graphQLClt:   graphQLClt,
		logger:       zap.L().Named(loggerName),
		updateMethod: "rebase",
	}

	for _, o := range opts {
		o(&clt)
	}

	return &clt
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is an github API client.
// All methods return a autobaseerr.RetryableError when an operation can be retried.
// This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt      *github.Client
	graphQLClt   *githubv4.Client
	logger       *zap.Logger
	updateMethod string
}

// DefaultBranch returns the name of the default branch of the repository.
func (clt *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var q struct {
		Repository struct {
			DefaultBranchRef struct {
				Name string
			}
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]any{
		"owner": githubv4.String(owner),
		"name":  githubv4.String(repo),
	}

	if err := clt.graphQLClt.Query(ctx, &q, vars); err != nil {
		return "", clt.wrapGraphQLRetryableErrors(err)
	}

	branch := q.Repository.DefaultBranchRef.Name
	if branch == "" {
		return "", fmt.Errorf("github returned an empty default branch name for %s/%s", owner, repo)
	}

	return branch, nil
}

// ListPullRequests returns all open pull requests with the base branch
// baseBranch. They are ordered by their creation time, the oldest first.
func (clt *Client) ListPullRequests(ctx context.Context, owner, repo, baseBranch string) ([]*PullRequestSummary, error) {
	var result []*PullRequestSummary

	it := clt.pullRequestIter(ctx, owner, repo, baseBranch)
	for {
		pr, err := it.Next()
		if err != nil {
			return nil, err
		}

		if pr == nil {
			return result, nil
		}

		result = append(result, toPullRequestSummary(pr))
	}
}

// PullRequest fetches a single pull request.
// Contrary to ListPullRequests, the returned mergeable state and
// rebaseable flag are computed by GitHub for the current head commit.
func (clt *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*PullRequestDetail, error) {
	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return &PullRequestDetail{
		Number:         pr.GetNumber(),
		MergeableState: MergeableState(pr.GetMergeableState()),
		Rebaseable:     pr.GetRebaseable(),
		Labels:         labelNames(pr.Labels),
		HeadSHA:        pr.GetHead().GetSHA(),
	}, nil
}

// ListReviews returns all reviews of a pull request.
func (clt *Client) ListReviews(ctx context.Context, owner, repo string, number int) ([]*Review, error) {
	var result []*Review

	opts := github.ListOptions{PerPage: listPerPage}
	for {
		reviews, resp, err := clt.restClt.PullRequests.ListReviews(ctx, owner, repo, number, &opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, r := range reviews {
			result = append(result, &Review{
				State:    ReviewState(r.GetState()),
				Reviewer: r.GetUser().GetLogin(),
			})
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

type updateBranchRequest struct {
	ExpectedHeadSHA string `json:"expected_head_sha"`
	UpdateMethod    string `json:"update_method,omitempty"`
}

// UpdateBranch updates the pull request branch with the latest changes of
// its base branch, using the configured update method.
// The operation fails with ErrHeadChanged if the head commit of the
// branch is not expectedHeadSHA anymore. It fails with ErrMergeConflict if
// the changes can not be applied automatically.
// GitHub usually schedules the update and responds with 202 Accepted, this
// is treated as success and the returned result has Scheduled set.
// Only rate limit errors are returned as retryable. After a 5xx response
// the update might have been applied anyway.
func (clt *Client) UpdateBranch(ctx context.Context, owner, repo string, number int, expectedHeadSHA string) (*UpdateBranchResult, error) {
	// go-github's PullRequestBranchUpdateOptions does not support the
	// update_method parameter, the request is built manually.
	u := fmt.Sprintf("repos/%v/%v/pulls/%d/update-branch", owner, repo, number)

	req, err := clt.restClt.NewRequest(http.MethodPut, u, &updateBranchRequest{
		ExpectedHeadSHA: expectedHeadSHA,
		UpdateMethod:    clt.updateMethod,
	})
	if err != nil {
		return nil, err
	}

	logger := clt.logger.With(
		logfields.RepositoryOwner(owner),
		logfields.Repository(repo),
		logfields.PullRequest(number),
		logfields.Commit(expectedHeadSHA),
		zap.String("github.update_method", clt.updateMethod),
	)

	var resp github.PullRequestBranchUpdateResponse

	_, err = clt.restClt.Do(ctx, req, &resp)
	if err == nil {
		logger.Debug("branch was updated with base branch",
			logfields.Event("github_branch_update_with_base_triggered"))

		return &UpdateBranchResult{Message: resp.GetMessage(), URL: resp.GetURL()}, nil
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		if len(acceptedErr.Raw) > 0 {
			if jErr := json.Unmarshal(acceptedErr.Raw, &resp); jErr != nil {
				logger.Debug("could not unmarshal body of accepted update branch response",
					logfields.Event("github_branch_update_response_unmarshal_failed"),
					zap.Error(jErr),
				)
			}
		}

		logger.Debug("updating branch with base branch scheduled",
			logfields.Event("github_branch_update_with_base_scheduled"))

		return &UpdateBranchResult{
			Message:   resp.GetMessage(),
			URL:       resp.GetURL(),
			Scheduled: true,
		}, nil
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil &&
		respErr.Response.StatusCode == http.StatusUnprocessableEntity {
		msg := strings.ToLower(respErr.Message)

		if strings.Contains(msg, "merge conflict") {
			return nil, fmt.Errorf("%w: %w", ErrMergeConflict, err)
		}

		if strings.Contains(msg, "expected head sha") {
			logger.Debug("branch changed while trying to update it with base branch",
				logfields.Event("github_branch_update_failed_ref_outdated"),
			)

			return nil, fmt.Errorf("%w: %w", ErrHeadChanged, err)
		}
	}

	return nil, clt.wrapRateLimitErrors(err)
}

// prIter iterates over the pages of the pull request list endpoint.
type prIter struct {
	clt *Client

	ctx   context.Context
	owner string
	repo  string
	base  string

	unseen []*github.PullRequest

	nextPage int
	finished bool
}

func (clt *Client) pullRequestIter(ctx context.Context, owner, repo, baseBranch string) *prIter {
	return &prIter{
		clt:      clt,
		ctx:      ctx,
		owner:    owner,
		repo:     repo,
		base:     baseBranch,
		nextPage: 1,
	}
}

// Next returns the next pullRequest.
// When the last result was returned a nil PullRequest is returned.
func (it *prIter) Next() (*github.PullRequest, error) {
	if len(it.unseen) > 0 {
		result := it.unseen[0]
		it.unseen = it.unseen[1:]

		return result, nil
	}

	if it.finished {
		return nil, nil
	}

	prs, resp, err := it.clt.restClt.PullRequests.List(it.ctx, it.owner, it.repo, &github.PullRequestListOptions{
		State:     "open",
		Base:      it.base,
		Sort:      "created",
		Direction: "asc",
		ListOptions: github.ListOptions{
			Page:    it.nextPage,
			PerPage: listPerPage,
		},
	})
	if err != nil {
		return nil, it.clt.wrapRetryableErrors(err)
	}

	if resp.NextPage == 0 || len(prs) == 0 {
		it.finished = true
	} else {
		it.nextPage = resp.NextPage
	}

	it.unseen = prs

	return it.Next()
}

func toPullRequestSummary(pr *github.PullRequest) *PullRequestSummary {
	return &PullRequestSummary{
		Number:         pr.GetNumber(),
		Labels:         labelNames(pr.Labels),
		Draft:          pr.GetDraft(),
		BaseBranch:     pr.GetBase().GetRef(),
		HeadSHA:        pr.GetHead().GetSHA(),
		State:          pr.GetState(),
		MergeableState: MergeableState(pr.GetMergeableState()),
		CreatedAt:      pr.GetCreatedAt().Time,
	}
}

func labelNames(labels []*github.Label) []string {
	result := make([]string, 0, len(labels))
	for _, l := range labels {
		result = append(result, l.GetName())
	}

	return result
}

func (clt *Client) wrapRetryableErrors(err error) error {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil &&
		respErr.Response.StatusCode >= 500 && respErr.Response.StatusCode < 600 {
		return autobaseerr.NewRetryableAnytimeError(err)
	}

	return clt.wrapRateLimitErrors(err)
}

// wrapRateLimitErrors wraps primary and secondary rate limit errors into a
// RetryableError. Requests failing with them were not processed by GitHub.
func (clt *Client) wrapRateLimitErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return autobaseerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.AbuseRateLimitError:
		clt.logger.Info(
			"secondary rate limit exceeded",
			logfields.Event("github_api_secondary_rate_limit_exceeded"),
			zap.Duration("github_api_retry_after", v.GetRetryAfter()),
		)

		if v.RetryAfter == nil {
			return autobaseerr.NewRetryableAnytimeError(err)
		}

		return autobaseerr.NewRetryableError(err, time.Now().Add(*v.RetryAfter))
	}

	return err
}

var graphQlHTTPStatusErrRe = regexp.MustCompile(`^non-200 OK status code: ([0-9]+) .*`)

func (clt *Client) wrapGraphQLRetryableErrors(err error) error {
	matches := graphQlHTTPStatusErrRe.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return err
	}

	errcode, atoiErr := strconv.Atoi(matches[1])
	if atoiErr != nil {
		clt.logger.Info(
			"parsing http code from error string failed",
			zap.Error(atoiErr),
			zap.String("error_string", err.Error()),
			zap.String("http_errcode", matches[1]),
		)
		return err
	}

	if errcode >= 500 && errcode < 600 {
		return autobaseerr.NewRetryableAnytimeError(err)
	}

	return err
}
