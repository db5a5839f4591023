package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"offsetledger/internal/core"
)

// envelope is the wire format for every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: true, Message: message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

// transactionDTO is the wire shape of a ledger row.
type transactionDTO struct {
	ID             int64       `json:"id"`
	Date           string      `json:"date"`
	Description    string      `json:"description"`
	Amount         core.Money  `json:"amount"`
	Category       string      `json:"category"`
	Label          *string     `json:"label"`
	ClosingBalance *core.Money `json:"closing_balance,omitempty"`
	HasSplit       bool        `json:"has_split"`
	SplitFromID    *int64      `json:"split_from_id,omitempty"`
}

func toTransactionDTO(t core.Transaction, label *string) transactionDTO {
	return transactionDTO{
		ID:             t.ID,
		Date:           t.Date.Format("2006-01-02"),
		Description:    t.Description,
		Amount:         t.Amount,
		Category:       t.Category,
		Label:          label,
		ClosingBalance: t.ClosingBalance,
		HasSplit:       t.HasSplit,
		SplitFromID:    t.SplitFromID,
	}
}

type userDTO struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
}

type allocationDTO struct {
	UserID      int64          `json:"user_id"`
	DisplayName string         `json:"display_name,omitempty"`
	Amount      core.Money     `json:"amount"`
	SplitType   core.SplitType `json:"split_type_code"`
	Percentage  *float64       `json:"percentage,omitempty"`
}

func toAllocationDTOs(allocs []core.SplitAllocation) []allocationDTO {
	out := make([]allocationDTO, 0, len(allocs))
	for _, a := range allocs {
		out = append(out, allocationDTO{
			UserID:      a.UserID,
			DisplayName: a.DisplayName,
			Amount:      a.Amount,
			SplitType:   a.SplitType,
			Percentage:  a.Percentage,
		})
	}
	return out
}

type settingsDTO struct {
	HideZeroBalanceBuckets       bool     `json:"hideZeroBalanceBuckets"`
	SelectedNegativeOffsetBucket *string  `json:"selectedNegativeOffsetBucket"`
	CategoryOrder                []string `json:"categoryOrder"`
}

func toSettingsDTO(s core.Settings) settingsDTO {
	dto := settingsDTO{
		HideZeroBalanceBuckets: s.HideZeroBalanceBuckets,
		CategoryOrder:          s.CategoryOrder,
	}
	if s.SelectedNegativeOffsetBucket != "" {
		dto.SelectedNegativeOffsetBucket = &s.SelectedNegativeOffsetBucket
	}
	if dto.CategoryOrder == nil {
		dto.CategoryOrder = []string{}
	}
	return dto
}

type bucketDTO struct {
	Name          string     `json:"name"`
	Total         core.Money `json:"total"`
	Count         int        `json:"count"`
	Percentage    float64    `json:"percentage"`
	IncludedInSum bool       `json:"included_in_sum"`
}

type summaryDTO struct {
	Computable bool        `json:"computable"`
	Buckets    []bucketDTO `json:"buckets"`
	GrandTotal core.Money  `json:"grand_total"`
	Reconciled *bool       `json:"reconciled"`
	Difference core.Money  `json:"difference"`
}

func toSummaryDTO(s core.Summary) summaryDTO {
	dto := summaryDTO{
		Computable: true,
		Buckets:    make([]bucketDTO, 0, len(s.Buckets)),
		GrandTotal: s.GrandTotal,
		Difference: s.Difference,
	}
	for _, b := range s.Buckets {
		dto.Buckets = append(dto.Buckets, bucketDTO{
			Name:          b.Name,
			Total:         b.Total,
			Count:         b.Count,
			Percentage:    b.Percentage,
			IncludedInSum: b.IncludedInSum,
		})
	}
	if s.Reconcilable {
		reconciled := s.Reconciled
		dto.Reconciled = &reconciled
	}
	return dto
}
