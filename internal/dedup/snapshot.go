package dedup

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SaveSnapshot writes the notified-key map to path as JSON so a restart does
// not renotify events that are still offline. The write goes through a temp
// file and rename; a crash mid-write never leaves a truncated snapshot.
func (s *MemoryStore) SaveSnapshot(path string) error {
	s.mu.Lock()
	entries := make(map[string]time.Time, len(s.notified))
	for key, at := range s.notified {
		entries[key] = at
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dedup snapshot: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write dedup snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace dedup snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot merges a previously saved snapshot into the store. A missing
// file is surfaced as-is so the caller can treat it as a cold start.
func (s *MemoryStore) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var entries map[string]time.Time
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode dedup snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, at := range entries {
		s.notified[key] = at
	}
	return nil
}
