// Package autorebase keeps the oldest labeled pull request of a base branch
// up to date by rebasing it onto the current tip of the base branch.
//
// A rebase pass is triggered by two kinds of GitHub events:
//
// - a pull request was merged into the base branch, the next pull request
// in line is now behind,
//
// - a check suite of a pull request completed without success, a stale
// branch is a common cause of failing checks.
//
// # Components
//
// The Dispatcher classifies a TriggerEvent and decides if a rebase pass runs
// and for which base branch.
//
// The Orchestrator runs a pass: it lists the open pull requests of the base
// branch, oldest first, and requests a branch update for the first one that
// is labeled, is not a draft, is behind its base branch, is rebaseable and
// has the required number of approvals. At most one branch update succeeds
// per pass. A failed update is reported and the next candidate is evaluated.
//
// Nothing is persisted between passes, every decision is made from the
// state fetched from GitHub during the pass.
package autorebase
