package github

import (
	"net/http"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/logfields"
	"github.com/simplesurance/autobase/internal/provider"
)

const loggerName = "github_event_provider"

const providerName = "github"

// Provider listens for github-webhook http-requests at a http-server handler,
// validates and converts the requests to Events and forwards them to an event
// channel.
type Provider struct {
	logger        *zap.Logger
	webhookSecret []byte
	c             chan<- *provider.Event
}

type Option func(*Provider)

// WithPayloadSecret enables validation of the payload signature.
// Requests that are not signed with secret are rejected.
func WithPayloadSecret(secret string) Option {
	return func(p *Provider) {
		p.webhookSecret = []byte(secret)
	}
}

func New(eventChan chan<- *provider.Event, opts ...Option) *Provider {
	p := Provider{
		c:      eventChan,
		logger: zap.L().Named(loggerName),
	}

	for _, o := range opts {
		o(&p)
	}

	return &p
}

// repositoryEvent is implemented by all go-github event types that reference
// a repository.
type repositoryEvent interface {
	GetRepo() *github.Repository
}

func (p *Provider) HTTPHandler(resp http.ResponseWriter, req *http.Request) {
	ev := provider.Event{
		Provider:   providerName,
		DeliveryID: github.DeliveryID(req),
		EventType:  github.WebHookType(req),
	}

	logger := p.logger.With(ev.LogFields()...)

	payload, err := github.ValidatePayload(req, p.webhookSecret)
	if err != nil {
		logger.Info(
			"received invalid http request, payload validation failed",
			logfields.Event("github_http_request_validation_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	logger.Debug(
		"received http request",
		logfields.Event("github_event_received"),
		zap.ByteString("http_body", payload),
	)

	parsed, err := github.ParseWebHook(ev.EventType, payload)
	if err != nil {
		logger.Info(
			"received invalid http request, parsing failed",
			logfields.Event("github_event_parsing_failed"),
			zap.Error(err),
		)
		http.Error(resp, err.Error(), http.StatusBadRequest)
		return
	}

	ev.Payload = payload
	ev.Parsed = parsed

	if repoEv, ok := parsed.(repositoryEvent); ok {
		repo := repoEv.GetRepo()
		ev.RepositoryOwner = repo.GetOwner().GetLogin()
		ev.Repository = repo.GetName()

		logger = p.logger.With(ev.LogFields()...)
	}

	select {
	case p.c <- &ev:
		logger.Debug("event forwarded to channel",
			logfields.Event("github_event_forwarded"),
		)

	default:
		logger.Warn(
			"event lost, forwarding event to channel failed",
			zap.String("error", "could not forward event to channel, send would have blocked"),
			logfields.Event("github_forwarding_event_failed"),
		)

		http.Error(resp, "queue full", http.StatusServiceUnavailable)
		return
	}
}
