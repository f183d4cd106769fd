package evloop

import (
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/autobase/internal/autorebase"
	"github.com/simplesurance/autobase/internal/autorebase/mocks"
	"github.com/simplesurance/autobase/internal/provider"
	"github.com/simplesurance/autobase/internal/retry"
)

const (
	repoOwner  = "testman"
	repoName   = "repo"
	baseBranch = "main"
)

const condCheckInterval = 20 * time.Millisecond
const condWaitTimeout = 5 * time.Second

func newMergedPREvent(t *testing.T, owner, repo string, prNumber int) *provider.Event {
	t.Helper()

	payload := []byte(fmt.Sprintf(`{
		"action": "closed",
		"pull_request": {"number": %d, "merged": true, "base": {"ref": %q}},
		"repository": {"name": %q, "owner": {"login": %q}}
	}`, prNumber, baseBranch, repo, owner))

	return newEvent(t, "pull_request", owner, repo, payload)
}

func newEvent(t *testing.T, eventType, owner, repo string, payload []byte) *provider.Event {
	t.Helper()

	parsed, err := github.ParseWebHook(eventType, payload)
	require.NoError(t, err)

	return &provider.Event{
		Provider:        "github",
		DeliveryID:      fmt.Sprintf("delivery-%d", time.Now().UnixNano()),
		EventType:       eventType,
		RepositoryOwner: owner,
		Repository:      repo,
		Payload:         payload,
		Parsed:          parsed,
	}
}

func startEvLoop(t *testing.T, ghClient autorebase.GithubClient, opts ...Option) *EvLoop {
	t.Helper()

	dispatcher := autorebase.NewDispatcher(ghClient, retry.New(), autorebase.DispatcherConfig{
		Label:      "autobase",
		BaseBranch: baseBranch,
	})

	evl := New(dispatcher, opts...)
	go evl.Start()
	t.Cleanup(evl.Stop)

	return evl
}

func waitForProcessedEvents(t *testing.T, evl *EvLoop, cnt uint64) {
	t.Helper()

	require.Eventually(
		t,
		func() bool { return evl.processedEventCnt.Load() == cnt },
		condWaitTimeout,
		condCheckInterval,
	)
}

func TestMergedPREventTriggersPass(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	ghClient.EXPECT().
		ListPullRequests(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repoName), gomock.Eq(baseBranch)).
		Return(nil, nil).
		Times(1)

	evl := startEvLoop(t, ghClient)
	evl.C() <- newMergedPREvent(t, repoOwner, repoName, 1)

	waitForProcessedEvents(t, evl, 1)
}

func TestEventsOfUnmonitoredRepositoriesAreIgnored(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	ghClient.EXPECT().
		ListPullRequests(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repoName), gomock.Eq(baseBranch)).
		Return(nil, nil).
		Times(1)

	evl := startEvLoop(t, ghClient, WithRepositories(autorebase.Repository{Owner: repoOwner, Name: repoName}))
	evl.C() <- newMergedPREvent(t, "other", repoName, 1)
	evl.C() <- newMergedPREvent(t, repoOwner, "other", 2)
	evl.C() <- newMergedPREvent(t, repoOwner, repoName, 3)

	waitForProcessedEvents(t, evl, 3)
}

func TestEventsNotMatchingFilterAreIgnored(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	// no calls are expected, the mock fails on any call
	ghClient := mocks.NewMockGithubClient(mockctrl)

	filter, err := NewFilter(`.pull_request.number != 1`)
	require.NoError(t, err)

	evl := startEvLoop(t, ghClient, WithFilter(filter))
	evl.C() <- newMergedPREvent(t, repoOwner, repoName, 1)

	waitForProcessedEvents(t, evl, 1)
}

func TestUnsupportedEventsAreIgnored(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	ghClient.EXPECT().
		ListPullRequests(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, nil).
		Times(1)

	evl := startEvLoop(t, ghClient)
	evl.C() <- newEvent(t, "push", repoOwner, repoName, []byte(`{
		"ref": "refs/heads/main",
		"repository": {"name": "repo", "owner": {"login": "testman"}}
	}`))
	evl.C() <- newMergedPREvent(t, repoOwner, repoName, 1)

	waitForProcessedEvents(t, evl, 2)
}
