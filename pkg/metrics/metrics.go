// Package metrics holds the Prometheus collectors shared by ingestion, queries
// and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	FactsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pundb_facts_total",
		Help: "Total number of facts processed, by type and outcome.",
	}, []string{"type", "outcome"})

	BatchCommitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pundb_batch_commit_seconds",
		Help:    "Latency for applying a write batch.",
		Buckets: prometheus.DefBuckets,
	})

	ResolverRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pundb_resolver_requests_total",
		Help: "Total number of rhyme resolver requests, by result.",
	}, []string{"result"})

	ResolverCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pundb_resolver_cache_hits_total",
		Help: "Total number of rhyme lookups served from the in-memory cache.",
	})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pundb_query_seconds",
		Help:    "Time spent answering rhyme queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	QueryResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pundb_query_results",
		Help:    "Number of results returned per rhyme query.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pundb_http_requests_total",
		Help: "Total number of HTTP requests, by route and status code.",
	}, []string{"route", "code"})

	PhrasesFlaggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pundb_phrases_flagged_total",
		Help: "Total number of phrases newly flagged NSFW.",
	})
)
