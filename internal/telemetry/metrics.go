package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

const namespace = "livequiz"

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Number of quiz sessions created.",
	})

	sessionsFinished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_finished_total",
		Help:      "Number of quiz sessions played to the end.",
	})

	sessionsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_expired_total",
		Help:      "Number of sessions evicted from the registry, by phase at eviction.",
	}, []string{"phase"})

	playersJoined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "players_joined_total",
		Help:      "Number of players that joined a session.",
	})

	answersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_submitted_total",
		Help:      "Number of accepted answers, by correctness.",
	}, []string{"correct"})

	pointsAwarded = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "answer_points",
		Help:      "Points awarded per correct answer.",
		Buckets:   prometheus.LinearBuckets(0, 100, 11),
	})
)

// GaugeFuncs exposes live values read at scrape time.
type GaugeFuncs struct {
	Sessions    func() int
	Connections func() int
}

// RegisterGameMetrics counts domain events published on the bus and registers the live gauges.
func RegisterGameMetrics(eb *event.Bus, g GaugeFuncs) {
	event.On(eb, domain.EventNameSessionCreated, func(context.Context, domain.EventSessionCreated) error {
		sessionsCreated.Inc()
		return nil
	})

	event.On(eb, domain.EventNameSessionFinished, func(context.Context, domain.EventSessionFinished) error {
		sessionsFinished.Inc()
		return nil
	})

	event.On(eb, domain.EventNameSessionExpired, func(_ context.Context, e domain.EventSessionExpired) error {
		sessionsExpired.WithLabelValues(string(e.Phase)).Inc()
		return nil
	})

	event.On(eb, domain.EventNamePlayerJoined, func(context.Context, domain.EventPlayerJoined) error {
		playersJoined.Inc()
		return nil
	})

	event.On(eb, domain.EventNameAnswerSubmitted, func(_ context.Context, e domain.EventAnswerSubmitted) error {
		if e.Correct {
			answersSubmitted.WithLabelValues("true").Inc()
			pointsAwarded.Observe(float64(e.Points))
		} else {
			answersSubmitted.WithLabelValues("false").Inc()
		}
		return nil
	})

	if g.Sessions != nil {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions held by the registry.",
		}, func() float64 { return float64(g.Sessions()) })
	}

	if g.Connections != nil {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Number of open websocket connections.",
		}, func() float64 { return float64(g.Connections()) })
	}
}
