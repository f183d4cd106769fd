package provider

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/logfields"
)

// Event is a webhook delivery received from an event provider.
type Event struct {
	Provider string

	// DeliveryID is the unique ID of the delivery.
	DeliveryID string
	// EventType is the name of the event, e.g. "pull_request".
	EventType string

	// RepositoryOwner and Repository are empty strings if the payload
	// does not reference a repository.
	RepositoryOwner string
	Repository      string

	// Payload is the JSON body of the delivery.
	Payload []byte
	// Parsed is the payload parsed into the provider's event type.
	Parsed any
}

func (e *Event) String() string {
	return fmt.Sprintf("%s (deliveryID: %s)", e.EventType, e.DeliveryID)
}

func (e *Event) LogFields() []zap.Field {
	fields := make([]zap.Field, 0, 5) // cap == max. size of fields we append

	fields = append(fields, logfields.EventProvider(e.Provider))

	if e.DeliveryID != "" {
		fields = append(fields, logfields.DeliveryID(e.DeliveryID))
	}

	if e.EventType != "" {
		fields = append(fields, logfields.GithubEventType(e.EventType))
	}

	if e.RepositoryOwner != "" {
		fields = append(fields, logfields.RepositoryOwner(e.RepositoryOwner))
	}

	if e.Repository != "" {
		fields = append(fields, logfields.Repository(e.Repository))
	}

	return fields
}
