package autorebase

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/autobase/internal/autorebase/mocks"
	"github.com/simplesurance/autobase/internal/githubclt"
	"github.com/simplesurance/autobase/internal/retry"
)

func TestMetricsAreRecorded(t *testing.T) {
	observeLogs(t)

	repo := Repository{Owner: repoOwner, Name: "metrics-repo"}

	updateSuccessCnt := metrics.branchUpdates.WithLabelValues(repo.String(), string(updateResultSuccessVal))
	updateFailureCnt := metrics.branchUpdates.WithLabelValues(repo.String(), string(updateResultFailureVal))
	draftSkipCnt := metrics.skips.WithLabelValues(repo.String(), string(SkipReasonDraft))
	dispatchedCnt := metrics.events.WithLabelValues(EventTypePullRequest, string(eventResultDispatchedVal))

	successBefore := testutil.ToFloat64(updateSuccessCnt)
	failureBefore := testutil.ToFloat64(updateFailureCnt)
	draftBefore := testutil.ToFloat64(draftSkipCnt)
	dispatchedBefore := testutil.ToFloat64(dispatchedCnt)

	mockctrl := gomock.NewController(t)
	ghClient := mocks.NewMockGithubClient(mockctrl)

	draft := prSummary(1, label)
	draft.Draft = true

	gomock.InOrder(
		ghClient.EXPECT().
			ListPullRequests(gomock.Any(), gomock.Eq(repoOwner), gomock.Eq("metrics-repo"), gomock.Eq(baseBranch)).
			Return([]*githubclt.PullRequestSummary{draft, prSummary(2, label), prSummary(3, label)}, nil),
		ghClient.EXPECT().
			PullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(2)).
			Return(prDetail(2, githubclt.MergeableStateBehind, true), nil),
		ghClient.EXPECT().
			UpdateBranch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(2), gomock.Any()).
			Return(nil, githubclt.ErrMergeConflict),
		ghClient.EXPECT().
			PullRequest(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(3)).
			Return(prDetail(3, githubclt.MergeableStateBehind, true), nil),
		ghClient.EXPECT().
			UpdateBranch(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Eq(3), gomock.Any()).
			Return(&githubclt.UpdateBranchResult{}, nil),
	)

	d := NewDispatcher(ghClient, retry.New(), DispatcherConfig{Label: label, BaseBranch: baseBranch})
	_, err := d.Dispatch(context.Background(), repo, &PullRequestMerged{
		Number:    10,
		BaseRef:   baseBranch,
		WasMerged: true,
	})
	require.NoError(t, err)

	assert.Equal(t, successBefore+1, testutil.ToFloat64(updateSuccessCnt))
	assert.Equal(t, failureBefore+1, testutil.ToFloat64(updateFailureCnt))
	assert.Equal(t, draftBefore+1, testutil.ToFloat64(draftSkipCnt))
	assert.Equal(t, dispatchedBefore+1, testutil.ToFloat64(dispatchedCnt))
}
