package evloop

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/autorebase"
	"github.com/simplesurance/autobase/internal/logfields"
	"github.com/simplesurance/autobase/internal/provider"
)

const DefEventChannelBufferSize = 512

const loggerName = "event_loop"

// Dispatcher processes a TriggerEvent, it is implemented by
// *autorebase.Dispatcher.
type Dispatcher interface {
	Dispatch(context.Context, autorebase.Repository, autorebase.TriggerEvent) (*autorebase.Outcome, error)
}

// EvLoop receives webhook events and dispatches them one after another.
// Events of repositories that are not in the allow-list and events for that
// the filter query does not evaluate to true are ignored.
type EvLoop struct {
	ch         chan *provider.Event
	logger     *zap.Logger
	dispatcher Dispatcher
	filter     *Filter
	repos      map[autorebase.Repository]struct{}

	ctx       context.Context
	cancelCtx context.CancelFunc
	done      chan struct{}

	processedEventCnt atomic.Uint64
}

type Option func(*EvLoop)

// WithFilter sets the filter query that events must match.
func WithFilter(f *Filter) Option {
	return func(e *EvLoop) {
		e.filter = f
	}
}

// WithRepositories sets the repositories for that events are processed.
// If it is not set, events of all repositories are processed.
func WithRepositories(repos ...autorebase.Repository) Option {
	return func(e *EvLoop) {
		for _, r := range repos {
			e.repos[r] = struct{}{}
		}
	}
}

func New(dispatcher Dispatcher, opts ...Option) *EvLoop {
	ctx, cancelFn := context.WithCancel(context.Background())

	evl := EvLoop{
		ch:         make(chan *provider.Event, DefEventChannelBufferSize),
		logger:     zap.L().Named(loggerName),
		dispatcher: dispatcher,
		repos:      map[autorebase.Repository]struct{}{},
		ctx:        ctx,
		cancelCtx:  cancelFn,
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(&evl)
	}

	return &evl
}

// C returns the event channel.
// Events sent to this channel will be processed.
// The channel is closed when Stop() is called.
func (e *EvLoop) C() chan<- *provider.Event {
	return e.ch
}

// Start processes events until Stop() is called.
func (e *EvLoop) Start() {
	defer close(e.done)

	e.logger.Info("ready to process events", logfields.Event("eventloop_started"))

	for ev := range e.ch {
		e.process(ev)
		e.processedEventCnt.Inc()
	}

	e.logger.Info(
		"event loop terminated, event channel was closed",
		logfields.Event("eventloop_terminated"),
	)
}

func (e *EvLoop) process(ev *provider.Event) {
	logger := e.logger.With(ev.LogFields()...)

	logger.Debug("event received", logfields.Event("event_received"))

	if err := e.ctx.Err(); err != nil {
		logger.Info(
			"event loop is terminating, dropping event",
			logfields.Event("event_dropped"),
		)
		return
	}

	repo, err := autorebase.NewRepository(ev.RepositoryOwner, ev.Repository)
	if err != nil {
		logger.Debug(
			"ignoring event, it does not reference a repository",
			logfields.Event("event_ignored"),
			zap.Error(err),
		)
		return
	}

	if len(e.repos) > 0 {
		if _, exist := e.repos[repo]; !exist {
			logger.Debug(
				"ignoring event, repository is not monitored",
				logfields.Event("event_ignored"),
			)
			return
		}
	}

	if e.filter != nil {
		match, err := e.filter.Match(e.ctx, ev.Payload)
		if err != nil {
			logger.Error(
				"evaluating filter query failed, event is ignored",
				logfields.Event("filter_query_failed"),
				zap.Stringer("filter_query", e.filter),
				zap.Error(err),
			)
			return
		}

		if !match {
			logger.Debug(
				"ignoring event, filter query evaluated to false",
				logfields.Event("event_ignored"),
				zap.Stringer("filter_query", e.filter),
			)
			return
		}
	}

	trigger, err := autorebase.EventFromGithub(ev.EventType, ev.Parsed)
	if err != nil {
		logger.Error(
			"converting event failed",
			logfields.Event("event_conversion_failed"),
			zap.Error(err),
		)
		return
	}

	outcome, err := e.dispatcher.Dispatch(e.ctx, repo, trigger)
	if err != nil {
		if errors.Is(err, autorebase.ErrUnsupportedEvent) {
			logger.Debug(
				"ignoring event, event type is unsupported",
				logfields.Event("github_unsupported_event_received"),
			)
			return
		}

		logger.Error(
			"processing event failed",
			logfields.Event("event_processing_failed"),
			zap.Error(err),
		)
		return
	}

	logOutcome(logger, outcome)
}

func logOutcome(logger *zap.Logger, outcome *autorebase.Outcome) {
	if outcome.Ignored() {
		logger.Debug(
			"event processed, no pull request was evaluated",
			logfields.Event("event_processed"),
			zap.String("reason", outcome.IgnoreReason),
		)
		return
	}

	rebased := outcome.Rebased()
	rebasedNrs := make([]int, 0, len(rebased))
	for _, r := range rebased {
		rebasedNrs = append(rebasedNrs, r.Number)
	}

	failures := outcome.UpdateFailures()
	if len(failures) > 0 {
		logger.Warn(
			fmt.Sprintf("event processed, rebasing %d pull request(s) failed", len(failures)),
			logfields.Event("event_processed"),
			logfields.BaseBranch(outcome.BaseBranch),
			logfields.PullRequests(rebasedNrs),
		)
		return
	}

	logger.Info(
		"event processed",
		logfields.Event("event_processed"),
		logfields.BaseBranch(outcome.BaseBranch),
		logfields.PullRequests(rebasedNrs),
	)
}

// Stop stops the event loop and waits until Start() returned.
// The event processed in the moment is aborted, events that are still
// queued are dropped.
// The event channel (EvLoop.C()) will be closed.
func (e *EvLoop) Stop() {
	e.logger.Debug("event loop terminating", logfields.Event("eventloop_terminating"))

	e.cancelCtx()
	close(e.ch)

	<-e.done
}
