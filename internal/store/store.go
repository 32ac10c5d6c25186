// Package store provides the durable record backends of the chatbot.
//
// It holds the per-conversation attachment and reminder bookkeeping that must
// survive restarts, plus the inbound message dedup table. Backends: in-memory,
// SQLite, PostgreSQL and DynamoDB.
package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// UserStore persists models.UserRecord values keyed by conversation address.
type UserStore interface {
	// GetUser returns the record for addr or ErrNotFound.
	GetUser(ctx context.Context, addr models.Address) (*models.UserRecord, error)

	// RecordAttachment upserts the record with last_attachment_at = at. The
	// display name is only written when the stored one is empty.
	RecordAttachment(ctx context.Context, addr models.Address, displayName string, at time.Time) error

	// MarkReminded sets last_reminder_at = remindedAt only if the stored
	// last_attachment_at still equals attachmentAt and no reminder was recorded
	// for it yet. It reports whether the record was updated.
	MarkReminded(ctx context.Context, addr models.Address, attachmentAt, remindedAt time.Time) (bool, error)

	// ListUsers returns all records.
	ListUsers(ctx context.Context) ([]models.UserRecord, error)

	Close() error
}

// Store is the full durable backend.
type Store interface {
	UserStore
	DedupRepo
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	// key=value form: "host=... user=... dbname=..."
	if strings.Contains(lower, "host=") && (strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=")) {
		return "postgres"
	}
	return "sqlite3"
}

// toMillis and fromMillis convert between time.Time and the integer
// millisecond timestamps stored by every backend. Equality comparisons in
// MarkReminded rely on both sides being truncated the same way.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// InMemoryStore is a map-backed Store for tests and for running without a database.
type InMemoryStore struct {
	mu    sync.Mutex
	users map[models.Address]models.UserRecord
	dedup map[string]DedupRecord
	now   func() time.Time
}

// Compile-time checks.
var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*DynamoStore)(nil)
)

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users: make(map[models.Address]models.UserRecord),
		dedup: make(map[string]DedupRecord),
		now:   time.Now,
	}
}

func (s *InMemoryStore) GetUser(ctx context.Context, addr models.Address) (*models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *InMemoryStore) RecordAttachment(ctx context.Context, addr models.Address, displayName string, at time.Time) error {
	if addr == "" {
		return models.ErrEmptyAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	u, ok := s.users[addr]
	if !ok {
		u = models.UserRecord{Address: addr, CreatedAt: now}
	}
	if u.DisplayName == "" {
		u.DisplayName = displayName
	}
	u.LastAttachmentAt = timePtr(fromMillis(toMillis(at)))
	u.UpdatedAt = now
	s.users[addr] = u
	return nil
}

func (s *InMemoryStore) MarkReminded(ctx context.Context, addr models.Address, attachmentAt, remindedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[addr]
	if !ok || u.LastAttachmentAt == nil {
		return false, nil
	}
	if toMillis(*u.LastAttachmentAt) != toMillis(attachmentAt) || u.Reminded() {
		return false, nil
	}
	u.LastReminderAt = timePtr(fromMillis(toMillis(remindedAt)))
	u.UpdatedAt = s.now().UTC()
	s.users[addr] = u
	return true, nil
}

func (s *InMemoryStore) ListUsers(ctx context.Context) ([]models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UserRecord, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *copyUser(u))
	}
	return out, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID string, addr models.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok {
		return rec.ProcessedAt == nil, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, Address: addr, ReceivedAt: s.now().UTC()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	rec.ProcessedAt = timePtr(s.now().UTC())
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) PruneDedup(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.dedup {
		if rec.ReceivedAt.Before(before) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func copyUser(u models.UserRecord) *models.UserRecord {
	c := u
	if u.LastAttachmentAt != nil {
		c.LastAttachmentAt = timePtr(*u.LastAttachmentAt)
	}
	if u.LastReminderAt != nil {
		c.LastReminderAt = timePtr(*u.LastReminderAt)
	}
	return &c
}
