package feeds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offsetledger_feed_sync_runs_total",
		Help: "Feed sync runs by outcome.",
	}, []string{"outcome"})

	transactionsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offsetledger_feed_transactions_fetched_total",
		Help: "Transactions fetched from the bank feed.",
	})

	transactionsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offsetledger_feed_transactions_upserted_total",
		Help: "Transactions written to the ledger by kind.",
	}, []string{"kind"})

	messagesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offsetledger_feed_messages_discarded_total",
		Help: "Refresh messages discarded as superseded.",
	})
)
