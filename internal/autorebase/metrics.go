package autorebase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/simplesurance/autobase/internal/logfields"
)

const metricNamespace = "autobase"

const (
	eventsMetricName        = "processed_github_events_total"
	skipsMetricName         = "candidate_skips_total"
	branchUpdatesMetricName = "branch_updates_total"
)

const (
	repositoryLabel = "repository"
	eventTypeLabel  = "event_type"
	resultLabel     = "result"
	reasonLabel     = "reason"
)

type eventResultLabelVal string

const (
	eventResultDispatchedVal  eventResultLabelVal = "dispatched"
	eventResultIgnoredVal     eventResultLabelVal = "ignored"
	eventResultUnsupportedVal eventResultLabelVal = "unsupported"
	eventResultFailedVal      eventResultLabelVal = "failed"
)

type updateResultLabelVal string

const (
	updateResultSuccessVal updateResultLabelVal = "success"
	updateResultFailureVal updateResultLabelVal = "failure"
)

type metricCollector struct {
	logger        *zap.Logger
	events        *prometheus.CounterVec
	skips         *prometheus.CounterVec
	branchUpdates *prometheus.CounterVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		logger: zap.L().Named(loggerName).Named("metrics"),
		events: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      eventsMetricName,
				Help:      "count of dispatched github events",
			},
			[]string{eventTypeLabel, resultLabel},
		),
		skips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      skipsMetricName,
				Help:      "count of pull requests that were not rebased, by reason",
			},
			[]string{repositoryLabel, reasonLabel},
		),
		branchUpdates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      branchUpdatesMetricName,
				Help:      "count of requested branch updates",
			},
			[]string{repositoryLabel, resultLabel},
		),
	}
}

func (m *metricCollector) logGetMetricFailed(metricName string, err error) {
	m.logger.Warn(
		"could not record metric",
		zap.String("metric", metricName),
		logfields.Event("recording_metric_failed"),
		zap.Error(err),
	)
}

func (m *metricCollector) EventInc(eventType string, result eventResultLabelVal) {
	cnt, err := m.events.GetMetricWith(prometheus.Labels{
		eventTypeLabel: eventType,
		resultLabel:    string(result),
	})
	if err != nil {
		m.logGetMetricFailed(eventsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) SkipInc(repo Repository, reason SkipReason) {
	cnt, err := m.skips.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		reasonLabel:     string(reason),
	})
	if err != nil {
		m.logGetMetricFailed(skipsMetricName, err)
		return
	}

	cnt.Inc()
}

func (m *metricCollector) BranchUpdateInc(repo Repository, result updateResultLabelVal) {
	cnt, err := m.branchUpdates.GetMetricWith(prometheus.Labels{
		repositoryLabel: repo.String(),
		resultLabel:     string(result),
	})
	if err != nil {
		m.logGetMetricFailed(branchUpdatesMetricName, err)
		return
	}

	cnt.Inc()
}
