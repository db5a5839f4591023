package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"offsetledger/internal/amqp"
	"offsetledger/internal/cache"
	"offsetledger/internal/core"
	applog "offsetledger/internal/log"
)

// ErrRefreshUnavailable is returned when no message broker is configured.
var ErrRefreshUnavailable = errors.New("feed refresh is not available")

const summaryCacheKey = "bucket-summary"

// Store is the persistence surface the service needs.
type Store interface {
	ListTransactions(ctx context.Context) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
	CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	UpdateTransactionFields(ctx context.Context, id int64, date time.Time, description string, amount core.Money, category string) (core.Transaction, error)
	CommitSplit(ctx context.Context, originalID int64, remaining core.Money, fragments []core.Transaction) ([]core.Transaction, error)
	ListCategories(ctx context.Context) ([]string, error)
	ListUsers(ctx context.Context) ([]core.User, error)
	GetAllocations(ctx context.Context, transactionID int64) ([]core.SplitAllocation, error)
	ListAllAllocations(ctx context.Context) (map[int64][]core.SplitAllocation, error)
	ReplaceAllocations(ctx context.Context, transactionID int64, allocations []core.SplitAllocation) error
	DeleteAllocations(ctx context.Context, transactionID int64) error
}

// Publisher sends refresh requests to the feed worker.
type Publisher interface {
	PublishFeedRefresh(ctx context.Context, msg *amqp.FeedRefreshMessage) error
}

// SettingsStore persists display preferences.
type SettingsStore interface {
	Display() (core.Settings, error)
	SetDisplay(core.Settings) error
	CategoryOrder(live []string) ([]string, error)
	SetCategoryOrder(order []string) error
}

// InitialData is everything the transactions view needs in one load.
type InitialData struct {
	Transactions []core.Transaction
	Labels       core.LabelView
	LabelOptions []*string
	Allocations  map[int64][]core.SplitAllocation
	Users        []core.User
	Categories   []string
	Settings     core.Settings
}

// LedgerService orchestrates ledger operations across storage, the
// settings store and the message broker.
type LedgerService struct {
	store      Store
	publisher  Publisher
	settings   SettingsStore
	logger     *applog.Logger
	windowDays int

	refreshSeq   atomic.Int64
	summaryCache *cache.LRUCache[core.Summary]
}

func NewLedgerService(store Store, publisher Publisher, settings SettingsStore, windowDays int, logger *applog.Logger) *LedgerService {
	return &LedgerService{
		store:        store,
		publisher:    publisher,
		settings:     settings,
		logger:       logger.WithComponent(applog.ComponentLedger),
		windowDays:   windowDays,
		summaryCache: cache.NewLRUCache[core.Summary](4, 30*time.Second),
	}
}

// InitialData loads transactions, users, ordered categories, resolved
// labels and display settings in one call.
func (s *LedgerService) InitialData(ctx context.Context) (InitialData, error) {
	var out InitialData

	transactions, err := s.store.ListTransactions(ctx)
	if err != nil {
		return out, fmt.Errorf("load transactions: %w", err)
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return out, fmt.Errorf("load users: %w", err)
	}

	allocations, err := s.store.ListAllAllocations(ctx)
	if err != nil {
		return out, fmt.Errorf("load allocations: %w", err)
	}

	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return out, fmt.Errorf("load categories: %w", err)
	}

	orderedCategories, err := s.settings.CategoryOrder(categories)
	if err != nil {
		// Order is cosmetic; fall back to discovery order.
		s.logger.WarnContext(ctx, "Falling back to unordered categories", applog.FieldError, err.Error())
		orderedCategories = categories
	}

	display, err := s.settings.Display()
	if err != nil {
		s.logger.WarnContext(ctx, "Falling back to default settings", applog.FieldError, err.Error())
		display = core.Settings{}
	}
	display.CategoryOrder = orderedCategories

	view := core.BuildLabelView(transactions, allocations, users, false)

	out.Transactions = transactions
	out.Labels = view
	out.LabelOptions = core.LabelFilterOptions(transactions, view)
	out.Allocations = allocations
	out.Users = core.ActiveUsers(users)
	out.Categories = orderedCategories
	out.Settings = display
	return out, nil
}

// Transaction loads a single ledger row.
func (s *LedgerService) Transaction(ctx context.Context, id int64) (core.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// CreateTransaction validates and stores a manually entered row.
func (s *LedgerService) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	created, err := s.store.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	s.summaryCache.Purge()

	s.logger.InfoContext(ctx, "Transaction created",
		applog.FieldTransactionID, created.ID,
		applog.FieldAmountCents, created.Amount.Cents)
	return created, nil
}

// UpdateTransaction updates the user-editable fields of a row.
func (s *LedgerService) UpdateTransaction(ctx context.Context, id int64, date time.Time, description string, amount core.Money, category string) (core.Transaction, error) {
	probe := core.Transaction{Date: date, Description: description, Amount: amount, Category: category}
	if err := probe.Validate(); err != nil {
		return core.Transaction{}, err
	}

	updated, err := s.store.UpdateTransactionFields(ctx, id, date, description, amount, category)
	if err != nil {
		return core.Transaction{}, err
	}
	s.summaryCache.Purge()

	s.logger.InfoContext(ctx, "Transaction updated",
		applog.FieldTransactionID, id,
		applog.FieldCategory, category)
	return updated, nil
}

// SplitResult is the outcome of committing a split.
type SplitResult struct {
	Original  core.Transaction
	Fragments []core.Transaction
	Remaining core.Money
}

// CommitSplit validates the split against the original transaction and
// writes the remainder plus fragments atomically.
func (s *LedgerService) CommitSplit(ctx context.Context, originalID int64, splits []core.SplitInput) (SplitResult, error) {
	var out SplitResult

	original, err := s.store.GetTransaction(ctx, originalID)
	if err != nil {
		return out, err
	}

	remaining, err := core.ValidateSplit(original, splits)
	if err != nil {
		return out, err
	}

	fragments := make([]core.Transaction, 0, len(splits))
	for _, in := range splits {
		cents, err := core.ParseSignedToCents(in.Amount)
		if err != nil {
			// ValidateSplit already screened amounts.
			return out, core.ErrSplitMissingField
		}
		fragments = append(fragments, core.Transaction{
			Date:        original.Date,
			Description: in.Description,
			Amount:      core.Money{Cents: cents},
			Category:    in.Category,
		})
	}

	created, err := s.store.CommitSplit(ctx, originalID, remaining, fragments)
	if err != nil {
		return out, err
	}
	s.summaryCache.Purge()

	updated, err := s.store.GetTransaction(ctx, originalID)
	if err != nil {
		return out, err
	}

	s.logger.InfoContext(ctx, "Transaction split",
		applog.FieldTransactionID, originalID,
		applog.FieldOperation, applog.OpSplit,
		"fragments", len(created),
		"remaining_cents", remaining.Cents)

	out.Original = updated
	out.Fragments = created
	out.Remaining = remaining
	return out, nil
}

// SplitConfigUser is one participant in a stored split configuration.
type SplitConfigUser struct {
	UserID     int64
	Amount     *core.Money
	Percentage *float64
}

// SplitConfig returns the stored allocations for a transaction.
func (s *LedgerService) SplitConfig(ctx context.Context, transactionID int64) ([]core.SplitAllocation, error) {
	if _, err := s.store.GetTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	return s.store.GetAllocations(ctx, transactionID)
}

// SetSplitConfig replaces a transaction's allocation set. Equal splits
// divide the transaction amount to the cent; fixed splits take the
// caller's amounts verbatim.
func (s *LedgerService) SetSplitConfig(ctx context.Context, transactionID int64, splitType core.SplitType, participants []SplitConfigUser) ([]core.SplitAllocation, error) {
	if len(participants) == 0 {
		return nil, core.ErrSplitNoParts
	}

	tx, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	var allocations []core.SplitAllocation
	switch splitType {
	case core.SplitTypeEqual:
		shares := core.EqualShares(tx.Amount, len(participants))
		pct := 100.0 / float64(len(participants))
		for i, p := range participants {
			share := pct
			allocations = append(allocations, core.SplitAllocation{
				UserID:     p.UserID,
				Amount:     shares[i],
				SplitType:  core.SplitTypeEqual,
				Percentage: &share,
			})
		}
	case core.SplitTypeFixed:
		var sum int64
		for _, p := range participants {
			if p.Amount == nil {
				return nil, core.ErrSplitMissingField
			}
			sum += p.Amount.Cents
			allocations = append(allocations, core.SplitAllocation{
				UserID:    p.UserID,
				Amount:    *p.Amount,
				SplitType: core.SplitTypeFixed,
			})
		}
		if abs64(sum) > abs64(tx.Amount.Cents) {
			return nil, core.ErrSplitOverAllocate
		}
	default:
		return nil, fmt.Errorf("unknown split type %q", splitType)
	}

	if err := s.store.ReplaceAllocations(ctx, transactionID, allocations); err != nil {
		return nil, err
	}
	return s.store.GetAllocations(ctx, transactionID)
}

// DeleteSplitConfig removes a transaction's allocation set.
func (s *LedgerService) DeleteSplitConfig(ctx context.Context, transactionID int64) error {
	if _, err := s.store.GetTransaction(ctx, transactionID); err != nil {
		return err
	}
	return s.store.DeleteAllocations(ctx, transactionID)
}

// RequestFeedRefresh publishes a refresh request and returns its
// sequence number.
func (s *LedgerService) RequestFeedRefresh(ctx context.Context) (int64, error) {
	if s.publisher == nil {
		return 0, ErrRefreshUnavailable
	}

	seq := s.refreshSeq.Add(1)
	msg := amqp.NewFeedRefreshMessage(seq, s.windowDays)
	if err := s.publisher.PublishFeedRefresh(ctx, msg); err != nil {
		return 0, fmt.Errorf("publish feed refresh: %w", err)
	}
	return seq, nil
}

// RegisterCaches adds the service's caches to a manager so expired
// entries are swept in the background instead of only on lookup.
func (s *LedgerService) RegisterCaches(m *cache.Manager) {
	m.Register(s.summaryCache)
}

// Buckets aggregates the whole ledger into category buckets, honoring
// the stored display settings. Results are briefly cached; any write to
// the ledger purges the cache.
func (s *LedgerService) Buckets(ctx context.Context) (core.Summary, error) {
	if cached, ok := s.summaryCache.Get(summaryCacheKey); ok {
		return cached, nil
	}

	summary, err := s.BucketsFiltered(ctx, core.Filter{})
	if err != nil {
		return core.Summary{}, err
	}
	s.summaryCache.Set(summaryCacheKey, summary)
	return summary, nil
}

// BucketsFiltered narrows the ledger through the given filter before
// aggregating. Filtered runs bypass the cache.
func (s *LedgerService) BucketsFiltered(ctx context.Context, f core.Filter) (core.Summary, error) {
	transactions, err := s.store.ListTransactions(ctx)
	if err != nil {
		return core.Summary{}, fmt.Errorf("load transactions: %w", err)
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return core.Summary{}, fmt.Errorf("load users: %w", err)
	}
	allocations, err := s.store.ListAllAllocations(ctx)
	if err != nil {
		return core.Summary{}, fmt.Errorf("load allocations: %w", err)
	}
	view := core.BuildLabelView(transactions, allocations, users, false)
	filtered := core.ApplyFilters(transactions, f, view)

	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return core.Summary{}, fmt.Errorf("load categories: %w", err)
	}

	display, err := s.settings.Display()
	if err != nil {
		display = core.Settings{}
	}
	order, err := s.settings.CategoryOrder(categories)
	if err != nil {
		order = categories
	}

	return core.AggregateByCategory(filtered, core.AggregateOptions{
		OffsetBucket: display.SelectedNegativeOffsetBucket,
		HideZero:     display.HideZeroBalanceBuckets,
		Order:        order,
	}), nil
}

// Settings returns the stored display settings.
func (s *LedgerService) Settings(ctx context.Context) (core.Settings, error) {
	display, err := s.settings.Display()
	if err != nil {
		return core.Settings{}, err
	}

	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return core.Settings{}, fmt.Errorf("load categories: %w", err)
	}
	order, err := s.settings.CategoryOrder(categories)
	if err != nil {
		order = categories
	}
	display.CategoryOrder = order
	return display, nil
}

// UpdateSettings persists display settings and the category order.
func (s *LedgerService) UpdateSettings(ctx context.Context, settings core.Settings) (core.Settings, error) {
	if err := s.settings.SetDisplay(settings); err != nil {
		return core.Settings{}, err
	}
	if settings.CategoryOrder != nil {
		if err := s.settings.SetCategoryOrder(settings.CategoryOrder); err != nil {
			return core.Settings{}, err
		}
	}
	s.summaryCache.Purge()
	return s.Settings(ctx)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
