package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	votesCastTotal     prometheus.Counter
	syncPublishesTotal *prometheus.CounterVec
	catalogFetches     *prometheus.CounterVec
	registerOnce       sync.Once
)

// Register initializes the counters on the default Prometheus registry.
// Helpers below are no-ops until it runs, so packages may record metrics
// unconditionally.
func Register() {
	registerOnce.Do(func() {
		votesCastTotal = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "foodvoter",
			Name:      "votes_cast_total",
			Help:      "Total votes accepted into the ledger.",
		})
		syncPublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodvoter",
			Name:      "sync_publishes_total",
			Help:      "Total entity writes pushed through the sync gateway.",
		}, []string{"entity"})
		catalogFetches = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "foodvoter",
			Name:      "catalog_fetches_total",
			Help:      "Total candidate catalog fetches by outcome.",
		}, []string{"result"})
	})
}

// IncVoteCast increments the accepted-vote counter.
func IncVoteCast() {
	if votesCastTotal == nil {
		return
	}
	votesCastTotal.Inc()
}

// IncSyncPublish increments the publish counter for an entity type.
func IncSyncPublish(entity string) {
	if syncPublishesTotal == nil {
		return
	}
	syncPublishesTotal.WithLabelValues(entity).Inc()
}

// IncCatalogFetch increments the catalog fetch counter for an outcome:
// "upstream", "stale_cache" or "error".
func IncCatalogFetch(result string) {
	if catalogFetches == nil {
		return
	}
	catalogFetches.WithLabelValues(result).Inc()
}
