package amqp

import (
	"encoding/json"
	"time"
)

// FeedRefreshMessage asks the worker to pull the bank feed. Sequence is
// monotonically increasing per process; the worker drops messages older
// than the last sequence it applied, so a slow fetch can never clobber
// the result of a newer one.
type FeedRefreshMessage struct {
	Sequence    int64     `json:"sequence"`
	WindowDays  int       `json:"window_days"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewFeedRefreshMessage creates a refresh request for the given window
func NewFeedRefreshMessage(sequence int64, windowDays int) *FeedRefreshMessage {
	return &FeedRefreshMessage{
		Sequence:    sequence,
		WindowDays:  windowDays,
		RequestedAt: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *FeedRefreshMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FeedRefreshMessageFromJSON creates a message from JSON bytes
func FeedRefreshMessageFromJSON(data []byte) (*FeedRefreshMessage, error) {
	var msg FeedRefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
