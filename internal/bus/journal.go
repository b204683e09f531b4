package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/logger"
)

// JournalEntry is one published event as recorded on disk.
type JournalEntry struct {
	Topic string `json:"topic"`
	Event Event  `json:"event"`
}

// Journal appends published events to a JSON lines file so benchmark
// history can be inspected or replayed later.
type Journal struct {
	path    string
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// OpenJournal opens (or creates) the journal at path in append mode.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	return &Journal{path: path, file: file, encoder: json.NewEncoder(file)}, nil
}

// Append records an event.
func (j *Journal) Append(topic string, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return fmt.Errorf("journal %s is closed", j.path)
	}
	if err := j.encoder.Encode(JournalEntry{Topic: topic, Event: event}); err != nil {
		return fmt.Errorf("writing journal entry: %w", err)
	}
	return nil
}

// Entries reads every recorded entry in order. Malformed lines are skipped.
func (j *Journal) Entries() ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	defer file.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(file)
	// Reports can be large.
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var e JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	return entries, nil
}

// Replay republishes every recorded entry to b.
func (j *Journal) Replay(ctx context.Context, b Bus) error {
	entries, err := j.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Publish(ctx, e.Topic, e.Event); err != nil {
			return fmt.Errorf("replaying event %s: %w", e.Event.ID, err)
		}
	}
	return nil
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file, j.encoder = nil, nil
	return err
}

// JournaledBus records every event in a Journal before handing it to the
// wrapped bus.
type JournaledBus struct {
	inner   Bus
	journal *Journal
	log     *logger.Logger
}

// NewJournaledBus wraps inner.
func NewJournaledBus(inner Bus, journal *Journal, log *logger.Logger) *JournaledBus {
	if log == nil {
		log = logger.Discard()
	}
	return &JournaledBus{inner: inner, journal: journal, log: log}
}

// Publish journals the event (best effort) and delegates to the inner bus.
func (b *JournaledBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.journal.Append(topic, event); err != nil {
		b.log.Warn("Failed to journal event", "topic", topic, "error", err.Error())
	}
	return b.inner.Publish(ctx, topic, event)
}

// Subscribe delegates to the inner bus.
func (b *JournaledBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes the journal and the inner bus.
func (b *JournaledBus) Close() error {
	if err := b.journal.Close(); err != nil {
		b.log.Warn("Failed to close journal", "error", err.Error())
	}
	return b.inner.Close()
}
