package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_ingest_total",
		Help: "Document ingestion attempts by outcome.",
	}, []string{"outcome"})

	chatTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docqa_chat_requests_total",
		Help: "Chat requests served.",
	})

	retrieveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docqa_retrieve_requests_total",
		Help: "Retrieval requests by outcome.",
	}, []string{"outcome"})
)
