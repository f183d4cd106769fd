package logfields

import "go.uber.org/zap"

func EventProvider(val string) zap.Field {
	return zap.String("event_provider", val)
}

// Event is a short identifier of what the log entry is about, it is added to
// every log message.
func Event(val string) zap.Field {
	return zap.String("event", val)
}

func GithubEventType(val string) zap.Field {
	return zap.String("github.event_type", val)
}

func DeliveryID(val string) zap.Field {
	return zap.String("github.delivery_id", val)
}

func RunID(val string) zap.Field {
	return zap.String("run_id", val)
}
