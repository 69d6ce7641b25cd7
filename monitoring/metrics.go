package monitoring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	queueParticipants = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mintqueue_participants_total",
			Help: "Participants currently escrowed per queue instance",
		},
		[]string{"instance_id"},
	)

	queueEscrowed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mintqueue_escrowed_base_units",
			Help: "Total live escrow per queue instance in base units",
		},
		[]string{"instance_id"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mintqueue_operations_total",
			Help: "Total ledger-facing queue operations",
		},
		[]string{"operation", "status"},
	)

	mintResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mintqueue_mint_results_total",
			Help: "Per-asset mint outcomes across all fan-outs",
		},
		[]string{"result"},
	)

	mintDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mintqueue_mint_duration_seconds",
			Help:    "Duration of individual asset mints",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"instance_id"},
	)
)

type Monitor struct {
	redis *redis.Client
}

// NewMonitor starts the background gauge collector. It stops when ctx is
// cancelled.
func NewMonitor(ctx context.Context, redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}
	go monitor.collectMetrics(ctx)
	return monitor
}

func (m *Monitor) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectOnce(ctx)
		}
	}
}

// collectOnce refreshes per-instance gauges from the cached status
// snapshots the services keep in Redis. SCAN keeps the walk incremental so
// the collector never blocks the instance on a large keyspace.
func (m *Monitor) collectOnce(ctx context.Context) {
	iter := m.redis.Scan(ctx, 0, "queue:status:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		instanceID := key[len("queue:status:"):]
		raw, err := m.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var snapshot struct {
			QueueCount    uint64 `json:"queue_count"`
			TotalEscrowed uint64 `json:"total_escrowed"`
		}
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			continue
		}
		queueParticipants.WithLabelValues(instanceID).Set(float64(snapshot.QueueCount))
		queueEscrowed.WithLabelValues(instanceID).Set(float64(snapshot.TotalEscrowed))
	}
}

// TrackOperation counts one deploy/join/trigger/refund attempt.
func TrackOperation(operation, status string) {
	queueOperations.WithLabelValues(operation, status).Inc()
}

// TrackMint records one per-asset mint outcome and its duration.
func TrackMint(instanceID, result string, duration time.Duration) {
	mintResults.WithLabelValues(result).Inc()
	mintDuration.WithLabelValues(instanceID).Observe(duration.Seconds())
}
