package autorebase

import (
	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/logfields"
)

var (
	logEventEventIgnored     = logfields.Event("github_event_ignored")
	logEventCandidateSkipped = logfields.Event("candidate_skipped")
	logEventRebaseFailed     = logfields.Event("rebase_failed")
	logEventRebased          = logfields.Event("rebased")
)

func logFieldReason(reason string) zap.Field {
	return zap.String("reason", reason)
}
