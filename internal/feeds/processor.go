package feeds

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"offsetledger/internal/amqp"
	"offsetledger/internal/core"
	applog "offsetledger/internal/log"
)

// Upserter writes feed rows into the ledger.
type Upserter interface {
	UpsertFromFeed(ctx context.Context, feedID string, t core.Transaction) (bool, error)
}

// Fetcher pulls transactions from the bank API.
type Fetcher interface {
	FetchTransactions(ctx context.Context, startDate time.Time) ([]FeedTransaction, error)
}

// SyncStats summarizes one sync run.
type SyncStats struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Processor runs a full fetch-and-upsert cycle.
type Processor struct {
	client Fetcher
	store  Upserter
	logger *applog.Logger
}

func NewProcessor(client Fetcher, store Upserter, logger *applog.Logger) *Processor {
	return &Processor{
		client: client,
		store:  store,
		logger: logger.WithComponent(applog.ComponentFeed),
	}
}

// Sync fetches the window and upserts every row. A row that fails to
// upsert is skipped and counted; it does not abort the run.
func (p *Processor) Sync(ctx context.Context, windowDays int) (SyncStats, error) {
	var stats SyncStats

	startDate := time.Now().AddDate(0, 0, -windowDays)
	transactions, err := p.client.FetchTransactions(ctx, startDate)
	if err != nil {
		syncRuns.WithLabelValues("error").Inc()
		return stats, fmt.Errorf("fetch feed transactions: %w", err)
	}
	stats.Fetched = len(transactions)
	transactionsFetched.Add(float64(len(transactions)))

	for _, ft := range transactions {
		date, err := time.Parse("2006-01-02", ft.Date)
		if err != nil {
			p.logger.WarnContext(ctx, "Skipping feed row with bad date",
				applog.FieldError, err.Error(),
				"feed_id", ft.FeedID())
			stats.Skipped++
			continue
		}

		created, err := p.store.UpsertFromFeed(ctx, ft.FeedID(), core.Transaction{
			Date:           date,
			Description:    ft.Payee,
			Amount:         ft.Amount,
			ClosingBalance: ft.ClosingBalance,
		})
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to upsert feed row",
				applog.FieldError, err.Error(),
				"feed_id", ft.FeedID())
			stats.Skipped++
			continue
		}
		if created {
			stats.Created++
			transactionsUpserted.WithLabelValues("created").Inc()
		} else {
			stats.Updated++
			transactionsUpserted.WithLabelValues("updated").Inc()
		}
	}

	syncRuns.WithLabelValues("ok").Inc()
	p.logger.InfoContext(ctx, "Feed sync finished",
		applog.FieldFetched, stats.Fetched,
		applog.FieldCreated, stats.Created,
		applog.FieldUpdated, stats.Updated,
		"skipped", stats.Skipped)
	return stats, nil
}

// Worker consumes refresh messages. Refresh requests carry a sequence
// number; a message older than the newest one already applied is
// acknowledged and dropped, so a delayed delivery cannot overwrite the
// effect of a fresher sync. The sequence counter is process-local to the
// publisher, so after a publisher restart it regresses; a regressed
// sequence with a newer request time is treated as new, not stale.
type Worker struct {
	processor     *Processor
	logger        *applog.Logger
	lastApplied   atomic.Int64
	lastAppliedAt atomic.Int64 // unix nanos of the newest applied request
}

func NewWorker(processor *Processor, logger *applog.Logger) *Worker {
	return &Worker{
		processor: processor,
		logger:    logger.WithComponent(applog.ComponentWorker),
	}
}

// HandleMessage processes one refresh request.
func (w *Worker) HandleMessage(ctx context.Context, msg *amqp.FeedRefreshMessage) error {
	last := w.lastApplied.Load()
	if msg.Sequence != 0 && msg.Sequence <= last {
		lastAt := time.Unix(0, w.lastAppliedAt.Load())
		if msg.RequestedAt.IsZero() || !msg.RequestedAt.After(lastAt) {
			messagesDiscarded.Inc()
			w.logger.InfoContext(ctx, "Discarding superseded refresh message",
				applog.FieldSequence, msg.Sequence,
				"last_applied", last)
			return nil
		}
		w.logger.InfoContext(ctx, "Refresh sequence regressed, trusting request time",
			applog.FieldSequence, msg.Sequence,
			"last_applied", last)
	}

	if _, err := w.processor.Sync(ctx, msg.WindowDays); err != nil {
		return err
	}

	if msg.Sequence != 0 {
		w.lastApplied.Store(msg.Sequence)
		if !msg.RequestedAt.IsZero() {
			w.lastAppliedAt.Store(msg.RequestedAt.UnixNano())
		}
	}
	return nil
}
