package autorebase

import (
	"fmt"

	"github.com/google/go-github/v59/github"
)

const (
	// EventTypePullRequest is the GitHub event name of pull request events.
	EventTypePullRequest = "pull_request"
	// EventTypeCheckSuite is the GitHub event name of check suite events.
	EventTypeCheckSuite = "check_suite"
)

const (
	checkSuiteActionCompleted    = "completed"
	checkSuiteConclusionSuccess  = "success"
	missingPullRequestPayloadMsg = "event payload missing `pull_request`"
	missingCheckSuitePayloadMsg  = "event payload missing `check_suite`"
)

// TriggerEvent is an event that can cause a rebase pass.
// It is implemented by *PullRequestMerged, *CheckSuiteCompleted and
// *UnsupportedEvent.
type TriggerEvent interface {
	EventType() string
	isTriggerEvent()
}

// PullRequestMerged is created from a pull_request event.
// Despite its name it is created for every pull request action, WasMerged is
// only true if the pull request was merged.
type PullRequestMerged struct {
	Action    string
	Number    int
	BaseRef   string
	WasMerged bool
}

func (*PullRequestMerged) EventType() string { return EventTypePullRequest }
func (*PullRequestMerged) isTriggerEvent()   {}

// CheckSuiteCompleted is created from a check_suite event.
type CheckSuiteCompleted struct {
	Action     string
	Conclusion string
	HeadSHA    string
	// PullRequests contains the numbers of the pull requests associated
	// with the check suite, in the order they are listed in the event.
	PullRequests []int
}

func (*CheckSuiteCompleted) EventType() string { return EventTypeCheckSuite }
func (*CheckSuiteCompleted) isTriggerEvent()   {}

// UnsupportedEvent represents every event that is neither a pull_request nor
// a check_suite event.
type UnsupportedEvent struct {
	Type string
}

func (e *UnsupportedEvent) EventType() string { return e.Type }
func (*UnsupportedEvent) isTriggerEvent()     {}

// EventFromWebhook converts the JSON payload of a GitHub event to a
// TriggerEvent.
// eventType is the name of the event, as sent in the X-GitHub-Event header
// or in the GITHUB_EVENT_NAME environment variable of workflow runs.
func EventFromWebhook(eventType string, payload []byte) (TriggerEvent, error) {
	switch eventType {
	case EventTypePullRequest, EventTypeCheckSuite:
	default:
		return &UnsupportedEvent{Type: eventType}, nil
	}

	ev, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("parsing %s event payload failed: %w", eventType, err)
	}

	return EventFromGithub(eventType, ev)
}

// EventFromGithub converts an event parsed by go-github to a TriggerEvent.
func EventFromGithub(eventType string, ev any) (TriggerEvent, error) {
	switch v := ev.(type) {
	case *github.PullRequestEvent:
		pr := v.GetPullRequest()
		if pr == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, missingPullRequestPayloadMsg)
		}

		return &PullRequestMerged{
			Action:    v.GetAction(),
			Number:    pr.GetNumber(),
			BaseRef:   pr.GetBase().GetRef(),
			WasMerged: pr.GetMerged(),
		}, nil

	case *github.CheckSuiteEvent:
		cs := v.GetCheckSuite()
		if cs == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, missingCheckSuitePayloadMsg)
		}

		prNumbers := make([]int, 0, len(cs.PullRequests))
		for _, pr := range cs.PullRequests {
			prNumbers = append(prNumbers, pr.GetNumber())
		}

		return &CheckSuiteCompleted{
			Action:       v.GetAction(),
			Conclusion:   cs.GetConclusion(),
			HeadSHA:      cs.GetHeadSHA(),
			PullRequests: prNumbers,
		}, nil

	default:
		return &UnsupportedEvent{Type: eventType}, nil
	}
}
