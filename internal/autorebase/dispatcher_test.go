package autorebase

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/autobase/internal/autorebase/mocks"
	"github.com/simplesurance/autobase/internal/githubclt"
	"github.com/simplesurance/autobase/internal/retry"
)

func newTestDispatcher(ghClient GithubClient, configuredBaseBranch string) *Dispatcher {
	return NewDispatcher(ghClient, retry.New(), DispatcherConfig{
		Label:      label,
		BaseBranch: configuredBaseBranch,
	})
}

func mockDefaultBranch(clt *mocks.MockGithubClient) *gomock.Call {
	return clt.EXPECT().
		DefaultBranch(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repoName)).
		Return(baseBranch, nil)
}

func TestDispatchMergedPRIntoDefaultBranchRebasesNext(t *testing.T) {
	observeLogs(t)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	gomock.InOrder(
		mockDefaultBranch(ghClient).Times(1),
		mockListPullRequests(ghClient, prSummary(2, label), prSummary(3, label)),
		mockPullRequest(ghClient, prDetail(2, githubclt.MergeableStateBehind, true)),
		mockSuccessfulUpdateBranch(ghClient, 2),
	)

	d := newTestDispatcher(ghClient, "")
	outcome, err := d.Dispatch(context.Background(), testRepo, &PullRequestMerged{
		Action:    "closed",
		Number:    1,
		BaseRef:   baseBranch,
		WasMerged: true,
	})
	require.NoError(t, err)

	assert.False(t, outcome.Ignored())
	assert.False(t, outcome.Failed())
	assert.Equal(t, baseBranch, outcome.BaseBranch)
	require.Len(t, outcome.Rebased(), 1)
	assert.Equal(t, 2, outcome.Rebased()[0].Number)
}

func TestDispatchMergedPRUsesConfiguredBaseBranch(t *testing.T) {
	observeLogs(t)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	ghClient.EXPECT().DefaultBranch(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	ghClient.EXPECT().
		ListPullRequests(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repoName), gomock.Eq("release")).
		Return(nil, nil)

	d := newTestDispatcher(ghClient, "release")
	outcome, err := d.Dispatch(context.Background(), testRepo, &PullRequestMerged{
		Number:    1,
		BaseRef:   "release",
		WasMerged: true,
	})
	require.NoError(t, err)

	require.Len(t, outcome.Passes, 1)
	assert.Equal(t, "release", outcome.Passes[0].BaseBranch)
	assert.Empty(t, outcome.Rebased())
}

func TestDispatchMergedPRIntoOtherBranchIsIgnored(t *testing.T) {
	logs := observeLogs(t)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	mockDefaultBranch(ghClient)
	ghClient.EXPECT().ListPullRequests(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	d := newTestDispatcher(ghClient, "")
	outcome, err := d.Dispatch(context.Background(), testRepo, &PullRequestMerged{
		Number:    1,
		BaseRef:   "feature",
		WasMerged: true,
	})
	require.NoError(t, err)

	assert.True(t, outcome.Ignored())
	assert.NotEmpty(t, outcome.IgnoreReason)
	assert.Equal(t, 1, logs.FilterField(logEventEventIgnored).Len())
}

func TestDispatchClosedUnmergedPRIsIgnored(t *testing.T) {
	observeLogs(t)

	mockctrl := gomock.NewController(t)
	// no calls are expected, the mock fails on any call
	ghClient := mocks.NewMockGithubClient(mockctrl)

	d := newTestDispatcher(ghClient, "")
	outcome, err := d.Dispatch(context.Background(), testRepo, &PullRequestMerged{
		Action:  "closed",
		Number:  1,
		BaseRef: baseBranch,
	})
	require.NoError(t, err)
	assert.True(t, outcome.Ignored())
	assert.Empty(t, outcome.BaseBranch)
}

func TestDispatchFailedCheckSuiteWithLabeledPR(t *testing.T) {
	observeLogs(t)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	gomock.InOrder(
		mockPullRequest(ghClient, prDetail(5, githubclt.MergeableStateBehind, true)),
		mockDefaultBranch(ghClient),
		mockListPullRequests(ghClient, prSummary(4, label), prSummary(5, label)),
		mockPullRequest(ghClient, prDetail(4, githubclt.MergeableStateBehind, true)),
		mockSuccessfulUpdateBranch(ghClient, 4),
	)

	d := newTestDispatcher(ghClient, "")
	outcome, err := d.Dispatch(context.Background(), testRepo, &CheckSuiteCompleted{
		Action:       "completed",
		Conclusion:   "failure",
		PullRequests: []int{5},
	})
	require.NoError(t, err)

	require.Len(t, outcome.Passes, 1)
	require.Len(t, outcome.Rebased(), 1)
	assert.Equal(t, 4, outcome.Rebased()[0].Number)
}

func TestDispatchCheckSuiteRunsOnePassPerLabeledPR(t *testing.T) {
	observeLogs(t)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	unlabeled := prDetail(6, githubclt.MergeableStateBehind, true)
	unlabeled.Labels = nil

	gomock.InOrder(
		mockPullRequest(ghClient, prDetail(5, githubclt.MergeableStateBehind, true)),
		mockListPullRequests(ghClient),
		mockPullRequest(ghClient, unlabeled),
		mockPullRequest(ghClient, prDetail(7, githubclt.MergeableStateBehind, true)),
		mockListPullRequests(ghClient),
	)

	d := newTestDispatcher(ghClient, baseBranch)
	outcome, err := d.Dispatch(context.Background(), testRepo, &CheckSuiteCompleted{
		Action:       "completed",
		Conclusion:   "timed_out",
		PullRequests: []int{5, 6, 7},
	})
	require.NoError(t, err)

	assert.Len(t, outcome.Passes, 2)
}

func TestDispatchCheckSuiteIgnored(t *testing.T) {
	testcases := []struct {
		name  string
		event *CheckSuiteCompleted
	}{
		{
			name: "success",
			event: &CheckSuiteCompleted{
				Action:       "completed",
				Conclusion:   "success",
				PullRequests: []int{1},
			},
		},
		{
			name: "notCompleted",
			event: &CheckSuiteCompleted{
				Action:       "requested",
				PullRequests: []int{1},
			},
		},
		{
			name: "noAssociatedPRs",
			event: &CheckSuiteCompleted{
				Action:     "completed",
				Conclusion: "failure",
			},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			logs := observeLogs(t)

			mockctrl := gomock.NewController(t)
			// no calls are expected, the mock fails on any call
			ghClient := mocks.NewMockGithubClient(mockctrl)

			d := newTestDispatcher(ghClient, "")
			outcome, err := d.Dispatch(context.Background(), testRepo, tc.event)
			require.NoError(t, err)

			assert.True(t, outcome.Ignored())
			assert.NotEmpty(t, outcome.IgnoreReason)
			assert.Equal(t, 1, logs.FilterField(logEventEventIgnored).Len())
		})
	}
}

func TestDispatchCheckSuiteWithUnlabeledPRDoesNotRunPass(t *testing.T) {
	observeLogs(t)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	unlabeled := prDetail(5, githubclt.MergeableStateBehind, true)
	unlabeled.Labels = []string{"bug"}

	mockPullRequest(ghClient, unlabeled)
	ghClient.EXPECT().DefaultBranch(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	ghClient.EXPECT().ListPullRequests(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	d := newTestDispatcher(ghClient, "")
	outcome, err := d.Dispatch(context.Background(), testRepo, &CheckSuiteCompleted{
		Action:       "completed",
		Conclusion:   "cancelled",
		PullRequests: []int{5},
	})
	require.NoError(t, err)
	assert.True(t, outcome.Ignored())
}

func TestDispatchCheckSuiteDetailErrorIsFatal(t *testing.T) {
	observeLogs(t)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	errFetch := errors.New("fetch failed")

	gomock.InOrder(
		mockPullRequest(ghClient, prDetail(5, githubclt.MergeableStateBehind, true)),
		mockListPullRequests(ghClient),
		ghClient.EXPECT().
			PullRequest(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq(repoName), gomock.Eq(6)).
			Return(nil, errFetch),
	)

	d := newTestDispatcher(ghClient, baseBranch)
	outcome, err := d.Dispatch(context.Background(), testRepo, &CheckSuiteCompleted{
		Action:       "completed",
		Conclusion:   "failure",
		PullRequests: []int{5, 6, 7},
	})
	require.ErrorIs(t, err, errFetch)
	require.NotNil(t, outcome)
	assert.Len(t, outcome.Passes, 1)
}

func TestDispatchReportsUpdateFailures(t *testing.T) {
	observeLogs(t)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	gomock.InOrder(
		mockListPullRequests(ghClient, prSummary(2, label)),
		mockPullRequest(ghClient, prDetail(2, githubclt.MergeableStateBehind, true)),
		ghClient.EXPECT().
			UpdateBranch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(2), gomock.Eq("sha2")).
			Return(nil, githubclt.ErrMergeConflict),
	)

	d := newTestDispatcher(ghClient, baseBranch)
	outcome, err := d.Dispatch(context.Background(), testRepo, &PullRequestMerged{
		Number:    1,
		BaseRef:   baseBranch,
		WasMerged: true,
	})
	require.NoError(t, err)

	assert.True(t, outcome.Failed())
	require.Len(t, outcome.UpdateFailures(), 1)
	assert.Equal(t, "failed to rebase PR #2: merge conflict", outcome.UpdateFailures()[0].String())
}

func TestDispatchUnsupportedEvent(t *testing.T) {
	observeLogs(t)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	d := newTestDispatcher(ghClient, "")
	outcome, err := d.Dispatch(context.Background(), testRepo, &UnsupportedEvent{Type: "push"})
	require.ErrorIs(t, err, ErrUnsupportedEvent)
	assert.True(t, outcome.Ignored())
}

func TestDispatchNilEvent(t *testing.T) {
	observeLogs(t)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	d := newTestDispatcher(ghClient, "")
	_, err := d.Dispatch(context.Background(), testRepo, nil)
	require.ErrorIs(t, err, ErrMissingPayload)
}

func TestDispatchDefaultBranchErrorIsFatal(t *testing.T) {
	observeLogs(t)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	errFetch := errors.New("fetch failed")
	ghClient.EXPECT().DefaultBranch(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errFetch)

	d := newTestDispatcher(ghClient, "")
	_, err := d.Dispatch(context.Background(), testRepo, &PullRequestMerged{
		Number:    1,
		BaseRef:   baseBranch,
		WasMerged: true,
	})
	require.ErrorIs(t, err, errFetch)
}
