package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"offsetledger/internal/core"
	applog "offsetledger/internal/log"
)

// FeedTransaction is one row from the bank's transactions API. Amounts
// arrive as JSON numbers or strings depending on the provider, so they
// decode through Money.
type FeedTransaction struct {
	ID             int64       `json:"id"`
	Date           string      `json:"date"`
	Payee          string      `json:"payee"`
	Amount         core.Money  `json:"amount"`
	ClosingBalance *core.Money `json:"closing_balance"`
}

// FeedID is the stable identity used for upserts.
func (t FeedTransaction) FeedID() string {
	return strconv.FormatInt(t.ID, 10)
}

// Client talks to a PocketSmith-compatible transactions API.
type Client struct {
	baseURL    string
	apiKey     string
	accountID  string
	httpClient *http.Client
	logger     *applog.Logger
}

func NewClient(baseURL, apiKey, accountID string, logger *applog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.WithComponent(applog.ComponentFeed),
	}
}

// FetchTransactions pulls every transaction page from startDate to now.
// An empty page, or a 404 past the first page, marks the end of the
// feed. Any other non-200 status is an error.
func (c *Client) FetchTransactions(ctx context.Context, startDate time.Time) ([]FeedTransaction, error) {
	var all []FeedTransaction

	for page := 1; ; page++ {
		transactions, done, err := c.fetchPage(ctx, page, startDate)
		if err != nil {
			return nil, err
		}
		if done {
			c.logger.InfoContext(ctx, "Reached end of feed",
				applog.FieldPage, page,
				applog.FieldFetched, len(all))
			return all, nil
		}
		all = append(all, transactions...)
	}
}

func (c *Client) fetchPage(ctx context.Context, page int, startDate time.Time) ([]FeedTransaction, bool, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/transactions", c.baseURL, url.PathEscape(c.accountID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build feed request: %w", err)
	}

	q := req.URL.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("start_date", startDate.Format("2006-01-02"))
	q.Set("end_date", time.Now().Format("2006-01-02"))
	req.URL.RawQuery = q.Encode()

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Developer-Key", c.apiKey)

	c.logger.DebugContext(ctx, "Fetching feed page", applog.FieldPage, page)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch feed page %d: %w", page, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var transactions []FeedTransaction
		if err := json.NewDecoder(resp.Body).Decode(&transactions); err != nil {
			return nil, false, fmt.Errorf("decode feed page %d: %w", page, err)
		}
		if len(transactions) == 0 {
			return nil, true, nil
		}
		return transactions, false, nil

	case resp.StatusCode == http.StatusNotFound && page > 1:
		// Providers report the page past the last one as missing.
		return nil, true, nil

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("feed page %d returned status %d: %s", page, resp.StatusCode, body)
	}
}
