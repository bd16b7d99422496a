package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PushMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whosprinting_push_messages_total",
		Help: "Plugin messages published on the push channel, by event.",
	}, []string{"event"})

	PushDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whosprinting_push_dropped_total",
		Help: "Plugin messages dropped because a subscriber was not keeping up.",
	})

	PushSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whosprinting_push_subscribers",
		Help: "Currently connected push subscribers.",
	})

	OccupancyTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whosprinting_occupancy_transitions_total",
		Help: "Occupancy changes, by kind (started, finished, failed, replaced).",
	}, []string{"kind"})

	TagScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whosprinting_tag_scans_total",
		Help: "Tag scans received from the sensor subsystem, by result.",
	}, []string{"result"})
)
