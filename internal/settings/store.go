package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"offsetledger/internal/core"
)

// Keys under which values live in the settings file.
const (
	KeyCategoryOrder = "offset_categories_order"
	KeyDisplay       = "offset_transactions_settings"
)

// displayValue is the stored shape of the display settings. The bucket
// is nullable on the wire; empty means none selected.
type displayValue struct {
	HideZeroBalanceBuckets       bool    `json:"hideZeroBalanceBuckets"`
	SelectedNegativeOffsetBucket *string `json:"selectedNegativeOffsetBucket"`
}

// Store is a durable key-value settings store backed by a single JSON
// file. Writes go through a temp file and rename so a crash mid-write
// never leaves a truncated file behind.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// load reads the whole settings file. A missing file is an empty store.
func (s *Store) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	values := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &values); err != nil {
		// A corrupt file degrades to defaults rather than blocking
		// the whole application.
		return map[string]json.RawMessage{}, nil
	}
	return values, nil
}

func (s *Store) save(values map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp settings file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing settings file: %w", err)
	}
	return nil
}

// Display returns the display settings, falling back to defaults when
// the key is absent or its stored value does not decode. A bad value is
// cleared so the next write starts clean.
func (s *Store) Display() (core.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := core.Settings{}

	values, err := s.load()
	if err != nil {
		return out, err
	}

	raw, ok := values[KeyDisplay]
	if !ok {
		return out, nil
	}

	var stored displayValue
	if err := json.Unmarshal(raw, &stored); err != nil {
		delete(values, KeyDisplay)
		if saveErr := s.save(values); saveErr != nil {
			return out, saveErr
		}
		return out, nil
	}

	out.HideZeroBalanceBuckets = stored.HideZeroBalanceBuckets
	if stored.SelectedNegativeOffsetBucket != nil {
		out.SelectedNegativeOffsetBucket = *stored.SelectedNegativeOffsetBucket
	}
	return out, nil
}

// SetDisplay persists the display settings.
func (s *Store) SetDisplay(settings core.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}

	var bucket *string
	if settings.SelectedNegativeOffsetBucket != "" {
		bucket = &settings.SelectedNegativeOffsetBucket
	}
	raw, err := json.Marshal(displayValue{
		HideZeroBalanceBuckets:       settings.HideZeroBalanceBuckets,
		SelectedNegativeOffsetBucket: bucket,
	})
	if err != nil {
		return fmt.Errorf("encoding display settings: %w", err)
	}
	values[KeyDisplay] = raw
	return s.save(values)
}

// CategoryOrder returns the stored order reconciled against the live
// category set: names no longer present are dropped and new names are
// appended in the order given. The healed order is written back when it
// differs from what was stored.
func (s *Store) CategoryOrder(live []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return nil, err
	}

	var stored []string
	if raw, ok := values[KeyCategoryOrder]; ok {
		if err := json.Unmarshal(raw, &stored); err != nil {
			stored = nil
			delete(values, KeyCategoryOrder)
		}
	}

	healed := healOrder(stored, live)
	if !equalStrings(healed, stored) {
		raw, err := json.Marshal(healed)
		if err != nil {
			return nil, fmt.Errorf("encoding category order: %w", err)
		}
		values[KeyCategoryOrder] = raw
		if err := s.save(values); err != nil {
			return nil, err
		}
	}
	return healed, nil
}

// SetCategoryOrder persists an explicit ordering.
func (s *Store) SetCategoryOrder(order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encoding category order: %w", err)
	}
	values[KeyCategoryOrder] = raw
	return s.save(values)
}

func healOrder(stored, live []string) []string {
	liveSet := make(map[string]bool, len(live))
	for _, name := range live {
		liveSet[name] = true
	}

	healed := make([]string, 0, len(live))
	seen := make(map[string]bool, len(live))
	for _, name := range stored {
		if liveSet[name] && !seen[name] {
			healed = append(healed, name)
			seen[name] = true
		}
	}
	for _, name := range live {
		if !seen[name] {
			healed = append(healed, name)
			seen[name] = true
		}
	}
	return healed
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
