package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	ChannelsProvisioned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channels_provisioned_total",
			Help: "Total number of private channels provisioned by status",
		},
		[]string{"status"},
	)
	ProvisioningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "channel_provisioning_duration_seconds",
			Help:    "Duration of channel provisioning in seconds",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		},
	)
	SettingsUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settings_updates_total",
			Help: "Total number of settings submissions by field and status",
		},
		[]string{"field", "status"},
	)
	PollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_poll_cycles_total",
			Help: "Total number of feed poll cycles by outcome",
		},
		[]string{"outcome"},
	)
	PollCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feed_poll_cycle_duration_seconds",
			Help:    "Duration of a feed poll cycle in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)
	ItemsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_items_delivered_total",
			Help: "Total number of feed item deliveries by status",
		},
		[]string{"status"},
	)
)

func InitMetrics() {
	collectors := map[string]prometheus.Collector{
		"ChannelsProvisioned":  ChannelsProvisioned,
		"ProvisioningDuration": ProvisioningDuration,
		"SettingsUpdates":      SettingsUpdates,
		"PollCycles":           PollCycles,
		"PollCycleDuration":    PollCycleDuration,
		"ItemsDelivered":       ItemsDelivered,
	}
	for name, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
}
