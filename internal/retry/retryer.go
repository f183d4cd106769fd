// Package retry runs operations repeatedly while they fail with a
// autobaseerr.RetryableError.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/autobaseerr"
	"github.com/simplesurance/autobase/internal/logfields"
)

const loggerName = "retryer"

const DefRetryTimeout = 2 * time.Minute

// ErrTimeout is returned by Run when the operation still failed with a
// retryable error when the retry timeout expired.
var ErrTimeout = errors.New("retry timeout expired")

// Retryer executes a function repeatedly until it was successful or cancel
// condition happened.
type Retryer struct {
	logger       *zap.Logger
	shutdownChan chan struct{}

	maxRetryTimeout            time.Duration
	backoffInitialInterval     time.Duration
	backoffRandomizationFactor float64
}

type Option func(*Retryer)

// WithMaxRetryTimeout sets the duration after which Run gives up.
// When it is 0, retryable errors are not retried.
func WithMaxRetryTimeout(d time.Duration) Option {
	return func(r *Retryer) {
		r.maxRetryTimeout = d
	}
}

func New(opts ...Option) *Retryer {
	r := Retryer{
		logger:                     zap.L().Named(loggerName),
		shutdownChan:               make(chan struct{}),
		maxRetryTimeout:            DefRetryTimeout,
		backoffInitialInterval:     time.Second,
		backoffRandomizationFactor: backoff.DefaultRandomizationFactor,
	}

	for _, opt := range opts {
		opt(&r)
	}

	return &r
}

func logFieldResult(val string) zap.Field {
	return zap.String("operation_result", val)
}

// Run executes fn until it was successful, it returned an error that
// does not wrap autobaseerr.RetryableError, the retry timeout expired or
// the execution was aborted via the context.
// When the retry timeout expires, the last error of fn wrapped together
// with ErrTimeout is returned.
func (r *Retryer) Run(ctx context.Context, fn func(context.Context) error, logF []zap.Field) error {
	var tryCnt uint

	logger := r.logger.With(logF...)

	endTime := time.Now().Add(r.maxRetryTimeout)

	retryTimer := time.NewTimer(0)
	defer retryTimer.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitialInterval
	bo.RandomizationFactor = r.backoffRandomizationFactor
	bo.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			logger.Info(
				"operation cancelled",
				logfields.Event("operation_cancelled"),
				logFieldResult("cancelled"),
			)

			return ctx.Err()

		case <-r.shutdownChan:
			logger.Info(
				"retryer terminating, operation not executed",
				logfields.Event("operation_cancelled_retryer_terminated"),
				logFieldResult("cancelled"),
			)

			return context.Canceled

		case <-retryTimer.C:
		}

		tryCnt++
		logger := logger.With(zap.Uint("try_count", tryCnt))

		err := fn(ctx)
		if err == nil {
			if tryCnt > 1 {
				logger.Debug(
					"operation succeeded after retrying",
					logfields.Event("operation_retry_succeeded"),
					logFieldResult("success"),
				)
			}

			return nil
		}

		var retryError *autobaseerr.RetryableError
		if !errors.As(err, &retryError) || errors.Is(err, context.Canceled) {
			return err
		}

		var retryIn time.Duration
		if retryError.After.IsZero() {
			retryIn = bo.NextBackOff()
		} else {
			retryIn = time.Until(retryError.After)
			if retryIn < r.backoffInitialInterval {
				retryIn = bo.NextBackOff()
			}
		}

		if time.Now().Add(retryIn).After(endTime) {
			logger.Warn(
				"giving up retrying operation, retry timeout expired",
				logfields.Event("operation_retry_timeout"),
				logFieldResult("failure"),
				zap.Duration("retry_timeout", r.maxRetryTimeout),
				zap.Error(err),
			)

			return errors.Join(ErrTimeout, err)
		}

		logger.Info(
			"operation failed, retry scheduled",
			logfields.Event("operation_retry_scheduled"),
			zap.Duration("retry_in", retryIn),
			zap.Error(err),
		)

		retryTimer.Reset(retryIn)
	}
}

// Stop notifies all Run() methods to terminate.
// It does not wait for their termination.
func (r *Retryer) Stop() {
	r.logger.Debug("retryer terminating", logfields.Event("retryer_terminating"))

	select {
	case <-r.shutdownChan:
		return // already closed
	default:
		close(r.shutdownChan)
	}
}
