package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"offsetledger/internal/core"
	applog "offsetledger/internal/log"
	"offsetledger/internal/services"
	"offsetledger/internal/storage"
)

const dateLayout = "2006-01-02"

// flexString decodes a JSON string or a raw number into its textual form.
// Split amounts arrive both ways depending on the client.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// errorStatus maps known failures to HTTP status codes. Anything unmapped
// is a server fault.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadySplit),
		errors.Is(err, storage.ErrIsFragment),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrSplitNoParts),
		errors.Is(err, core.ErrSplitMissingField),
		errors.Is(err, core.ErrSplitSignMismatch),
		errors.Is(err, core.ErrSplitOverAllocate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrRefreshUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	logger := applog.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			applog.FieldPath, r.URL.Path,
			applog.FieldError, err.Error())
		writeError(w, status, "internal server error")
		return
	}
	logger.WarnContext(r.Context(), "Request rejected",
		applog.FieldPath, r.URL.Path,
		applog.FieldError, err.Error())
	writeError(w, status, err.Error())
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid transaction id %q", raw)
	}
	return id, nil
}

func (s *Server) handleInitialData(w http.ResponseWriter, r *http.Request) {
	data, err := s.ledger.InitialData(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	txs := make([]transactionDTO, 0, len(data.Transactions))
	for _, t := range data.Transactions {
		txs = append(txs, toTransactionDTO(t, data.Labels.Resolve(t)))
	}

	users := make([]userDTO, 0, len(data.Users))
	for _, u := range data.Users {
		users = append(users, userDTO{ID: u.ID, DisplayName: u.DisplayName, Username: u.Username})
	}

	labelOptions := make([]*string, 0, len(data.LabelOptions))
	labelOptions = append(labelOptions, data.LabelOptions...)

	allocations := make(map[int64][]allocationDTO, len(data.Allocations))
	for txID, allocs := range data.Allocations {
		allocations[txID] = toAllocationDTOs(allocs)
	}

	writeData(w, http.StatusOK, map[string]any{
		"transactions":  txs,
		"label_options": labelOptions,
		"allocations":   allocations,
		"users":         users,
		"categories":    data.Categories,
		"settings":      toSettingsDTO(data.Settings),
	})
}

type createTransactionRequest struct {
	Date        string     `json:"date"`
	Description string     `json:"description"`
	Amount      core.Money `json:"amount"`
	Category    string     `json:"category"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		s.writeFailure(w, r, core.ErrInvalidDate)
		return
	}

	created, err := s.ledger.CreateTransaction(r.Context(), core.Transaction{
		Date:        date,
		Description: strings.TrimSpace(req.Description),
		Amount:      req.Amount,
		Category:    req.Category,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toTransactionDTO(created, nil))
}

type updateTransactionRequest struct {
	Date        *string     `json:"date"`
	Description *string     `json:"description"`
	Amount      *core.Money `json:"amount"`
	Category    *string     `json:"category"`
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req updateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing, err := s.ledger.Transaction(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	date := existing.Date
	if req.Date != nil {
		date, err = time.Parse(dateLayout, *req.Date)
		if err != nil {
			s.writeFailure(w, r, core.ErrInvalidDate)
			return
		}
	}
	description := existing.Description
	if req.Description != nil {
		description = strings.TrimSpace(*req.Description)
	}
	amount := existing.Amount
	if req.Amount != nil {
		amount = *req.Amount
	}
	category := existing.Category
	if req.Category != nil {
		category = *req.Category
	}

	updated, err := s.ledger.UpdateTransaction(r.Context(), id, date, description, amount, category)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toTransactionDTO(updated, updated.Label))
}

type splitRequest struct {
	TransactionID int64 `json:"transaction_id"`
	Splits        []struct {
		Description string     `json:"description"`
		Category    string     `json:"category"`
		Amount      flexString `json:"amount"`
	} `json:"splits"`
}

func (s *Server) handleSplitTransaction(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TransactionID <= 0 {
		writeError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	splits := make([]core.SplitInput, 0, len(req.Splits))
	for _, in := range req.Splits {
		splits = append(splits, core.SplitInput{
			Description: in.Description,
			Category:    in.Category,
			Amount:      string(in.Amount),
		})
	}

	result, err := s.ledger.CommitSplit(r.Context(), req.TransactionID, splits)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	fragments := make([]transactionDTO, 0, len(result.Fragments))
	for _, f := range result.Fragments {
		fragments = append(fragments, toTransactionDTO(f, nil))
	}
	writeData(w, http.StatusOK, map[string]any{
		"original":  toTransactionDTO(result.Original, result.Original.Label),
		"fragments": fragments,
		"remaining": result.Remaining,
	})
}

// splitConfigTransactionType guards the split-config routes, which are scoped
// to the offset ledger.
func splitConfigTransactionType(r *http.Request) error {
	tt := r.URL.Query().Get("transaction_type")
	if tt != "offset" {
		return fmt.Errorf("unsupported transaction_type %q", tt)
	}
	return nil
}

func (s *Server) handleGetSplitConfig(w http.ResponseWriter, r *http.Request) {
	if err := splitConfigTransactionType(r); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	allocs, err := s.ledger.SplitConfig(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"transaction_id": id,
		"allocations":    toAllocationDTOs(allocs),
	})
}

type splitConfigRequest struct {
	SplitTypeCode string `json:"split_type_code"`
	Users         []struct {
		ID         int64       `json:"id"`
		Amount     *core.Money `json:"amount"`
		Percentage *float64    `json:"percentage"`
	} `json:"users"`
}

func (s *Server) handleSetSplitConfig(w http.ResponseWriter, r *http.Request) {
	if err := splitConfigTransactionType(r); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req splitConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	participants := make([]services.SplitConfigUser, 0, len(req.Users))
	for _, u := range req.Users {
		participants = append(participants, services.SplitConfigUser{
			UserID:     u.ID,
			Amount:     u.Amount,
			Percentage: u.Percentage,
		})
	}

	allocs, err := s.ledger.SetSplitConfig(r.Context(), id, core.SplitType(req.SplitTypeCode), participants)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"transaction_id": id,
		"allocations":    toAllocationDTOs(allocs),
	})
}

func (s *Server) handleDeleteSplitConfig(w http.ResponseWriter, r *http.Request) {
	if err := splitConfigTransactionType(r); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ledger.DeleteSplitConfig(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "split configuration removed")
}

func (s *Server) handleRefreshFeeds(w http.ResponseWriter, r *http.Request) {
	seq, err := s.ledger.RequestFeedRefresh(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Feed refresh requested",
		applog.FieldSequence, seq)
	writeMessage(w, http.StatusAccepted, "feed refresh requested")
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.ledger.Settings(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toSettingsDTO(settings))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	incoming := core.Settings{
		HideZeroBalanceBuckets: req.HideZeroBalanceBuckets,
		CategoryOrder:          req.CategoryOrder,
	}
	if req.SelectedNegativeOffsetBucket != nil {
		incoming.SelectedNegativeOffsetBucket = *req.SelectedNegativeOffsetBucket
	}

	settings, err := s.ledger.UpdateSettings(r.Context(), incoming)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toSettingsDTO(settings))
}

// parseBucketFilter translates the buckets query string into a filter. The
// literal value "none" selects transactions missing that dimension.
func parseBucketFilter(r *http.Request) (core.Filter, error) {
	var f core.Filter
	q := r.URL.Query()

	if raw := q.Get("start_date"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return f, fmt.Errorf("invalid start_date %q", raw)
		}
		f.Date.Start = &t
	}
	if raw := q.Get("end_date"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return f, fmt.Errorf("invalid end_date %q", raw)
		}
		f.Date.End = &t
	}
	for _, c := range q["category"] {
		if c == "none" {
			f.Categories = append(f.Categories, nil)
			continue
		}
		v := c
		f.Categories = append(f.Categories, &v)
	}
	for _, l := range q["label"] {
		if l == "none" {
			f.Labels = append(f.Labels, nil)
			continue
		}
		v := l
		f.Labels = append(f.Labels, &v)
	}
	f.SortBy = q.Get("sort_by")
	return f, nil
}

func (s *Server) handleBuckets(w http.ResponseWriter, r *http.Request) {
	// The bucket view must never take the page down with it. On any panic
	// the client gets a degraded summary it knows how to render.
	defer func() {
		if rec := recover(); rec != nil {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Bucket aggregation panicked",
				applog.FieldError, fmt.Sprint(rec))
			writeData(w, http.StatusOK, summaryDTO{Computable: false, Buckets: []bucketDTO{}})
		}
	}()

	filter, err := parseBucketFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var summary core.Summary
	if isZeroFilter(filter) {
		summary, err = s.ledger.Buckets(r.Context())
	} else {
		summary, err = s.ledger.BucketsFiltered(r.Context(), filter)
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toSummaryDTO(summary))
}

func isZeroFilter(f core.Filter) bool {
	return f.Date.Start == nil && f.Date.End == nil &&
		len(f.Categories) == 0 && len(f.Labels) == 0 && f.SortBy == ""
}
