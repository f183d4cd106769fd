package autorebase

import (
	"fmt"
	"strings"
)

// SkipReason describes why a candidate was not rebased.
type SkipReason string

const (
	SkipReasonNotLabeled            SkipReason = "not_labeled"
	SkipReasonDraft                 SkipReason = "draft"
	SkipReasonNotBehind             SkipReason = "not_behind"
	SkipReasonNotRebaseable         SkipReason = "not_rebaseable"
	SkipReasonInsufficientApprovals SkipReason = "insufficient_approvals"
)

// Skip is a candidate that did not pass all gates.
type Skip struct {
	Number int
	Reason SkipReason
	// Detail is a human readable description of the reason.
	Detail string
}

func (s *Skip) String() string {
	return fmt.Sprintf("PR #%d %s", s.Number, s.Detail)
}

// Rebase is a successful branch update request.
type Rebase struct {
	Number  int
	HeadSHA string
	URL     string
	// Scheduled is true when GitHub accepted the request and performs the
	// update asynchronously.
	Scheduled bool
}

// UpdateFailure is a candidate for that the branch update request failed.
type UpdateFailure struct {
	Number int
	Err    error
}

func (f *UpdateFailure) String() string {
	return fmt.Sprintf("failed to rebase PR #%d: %s", f.Number, f.Err)
}

// PassResult is the result of an Orchestrator pass.
type PassResult struct {
	BaseBranch string
	// Evaluated are the numbers of all open pull requests of the base
	// branch, in the order they were evaluated.
	Evaluated      []int
	Skipped        []*Skip
	UpdateFailures []*UpdateFailure
	// Rebased is nil if no branch update succeeded.
	Rebased *Rebase
}

// Outcome is the result of dispatching a TriggerEvent.
type Outcome struct {
	EventType string
	// BaseBranch is empty if the event was ignored before the base branch
	// had to be resolved.
	BaseBranch string
	// IgnoreReason is set if the event did not cause any pass.
	IgnoreReason string
	Passes       []*PassResult
}

// Ignored returns true if the event did not cause any orchestrator pass.
func (o *Outcome) Ignored() bool {
	return len(o.Passes) == 0
}

// UpdateFailures returns the update failures of all passes.
func (o *Outcome) UpdateFailures() []*UpdateFailure {
	var result []*UpdateFailure

	for _, p := range o.Passes {
		result = append(result, p.UpdateFailures...)
	}

	return result
}

// Failed returns true if a branch update failed in any pass.
func (o *Outcome) Failed() bool {
	return len(o.UpdateFailures()) > 0
}

// Rebased returns the successful branch updates of all passes.
func (o *Outcome) Rebased() []*Rebase {
	var result []*Rebase

	for _, p := range o.Passes {
		if p.Rebased != nil {
			result = append(result, p.Rebased)
		}
	}

	return result
}

func formatPRNumbers(numbers []int) string {
	var sb strings.Builder

	for i, nr := range numbers {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "#%d", nr)
	}

	return sb.String()
}
