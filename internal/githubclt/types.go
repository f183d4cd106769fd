package githubclt

import "time"

// MergeableState is the mergeable_state value GitHub computes for a pull
// request. It describes if the branch is in sync with its base branch.
// The REST API documents no complete list of values, states that are not
// defined as constants can occur.
type MergeableState string

const (
	MergeableStateBehind  MergeableState = "behind"
	MergeableStateClean   MergeableState = "clean"
	MergeableStateDirty   MergeableState = "dirty"
	MergeableStateUnknown MergeableState = "unknown"
)

// ReviewState is the state of a pull request review.
type ReviewState string

const (
	ReviewStateApproved         ReviewState = "APPROVED"
	ReviewStateChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewStateCommented        ReviewState = "COMMENTED"
)

// PullRequestSummary is a pull request as it is returned by the list
// endpoint.
type PullRequestSummary struct {
	Number     int
	Labels     []string
	Draft      bool
	BaseBranch string
	HeadSHA    string
	State      string
	// MergeableState is often outdated or empty in list responses,
	// PullRequestDetail.MergeableState must be used for decisions.
	MergeableState MergeableState
	CreatedAt      time.Time
}

// HasLabel returns true if the pull request has a label with the given name.
func (p *PullRequestSummary) HasLabel(name string) bool {
	return containsLabel(p.Labels, name)
}

// PullRequestDetail is a single pull request fetched from GitHub, its
// mergeable state is authoritative.
type PullRequestDetail struct {
	Number         int
	MergeableState MergeableState
	Rebaseable     bool
	Labels         []string
	HeadSHA        string
}

func (p *PullRequestDetail) HasLabel(name string) bool {
	return containsLabel(p.Labels, name)
}

type Review struct {
	State    ReviewState
	Reviewer string
}

// UpdateBranchResult is the response of the update-branch operation.
type UpdateBranchResult struct {
	Message string
	// URL is the API URL of the updated pull request.
	URL string
	// Scheduled is true when GitHub accepted the update and runs it
	// asynchronously.
	Scheduled bool
}

func containsLabel(labels []string, name string) bool {
	for _, l := range labels {
		if l == name {
			return true
		}
	}

	return false
}
