// Package store persists watch subscriptions and per-entity seen state
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"lookout/internal/source"
	"lookout/internal/transport"
	logx "lookout/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SeenIDCap bounds the remembered item ids per entity. Oldest entries
// are evicted first.
const SeenIDCap = 200

var ErrNotFound = errors.New("store: not found")

// Subscription is one tenant's watch on one upstream entity.
type Subscription struct {
	Tenant   string
	Platform source.Platform
	Entity   string
	Display  string
	Chat     transport.ChatTarget
	Template string
	Created  time.Time
}

// Key identifies a subscription and its seen state.
type Key struct {
	Tenant   string
	Platform source.Platform
	Entity   string
}

func (s Subscription) Key() Key {
	return Key{Tenant: s.Tenant, Platform: s.Platform, Entity: s.Entity}
}

// SeenState is what the engine compares a fetched item against.
type SeenState struct {
	LastID    string
	SeenIDs   []string
	Live      bool
	Message   transport.MessageRef
	AvatarURL string
	UpdatedAt time.Time
}

// Seen reports whether the id was already notified.
func (s SeenState) Seen(id string) bool {
	if id == "" {
		return false
	}
	for _, v := range s.SeenIDs {
		if v == id {
			return true
		}
	}
	return false
}

// Remember records the id as notified, evicting the oldest entries past
// SeenIDCap, and sets it as the most recent one.
func (s *SeenState) Remember(id string) {
	if id == "" {
		return
	}
	if !s.Seen(id) {
		s.SeenIDs = append(s.SeenIDs, id)
		if n := len(s.SeenIDs) - SeenIDCap; n > 0 {
			s.SeenIDs = append(s.SeenIDs[:0], s.SeenIDs[n:]...)
		}
	}
	s.LastID = id
}

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if log.IsZero() {
		log = logx.Nop()
	}
	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put inserts or updates a subscription. Seen state for the key is left
// untouched so edits to target or template don't replay notifications.
func (s *Store) Put(ctx context.Context, sub Subscription) error {
	if sub.Tenant == "" || sub.Entity == "" {
		return errors.New("store: tenant and entity are required")
	}
	if sub.Chat.IsZero() {
		return errors.New("store: chat target is required")
	}
	created := sub.Created
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(tenant_id, platform, entity_id, display, chat_id, thread_id, template, created_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(tenant_id, platform, entity_id) DO UPDATE SET
		   display=excluded.display, chat_id=excluded.chat_id,
		   thread_id=excluded.thread_id, template=excluded.template`,
		sub.Tenant, string(sub.Platform), sub.Entity, sub.Display,
		sub.Chat.ChatID, sub.Chat.ThreadID, sub.Template,
		created.UTC().Format(time.RFC3339),
	)
	return err
}

// Remove deletes the subscription and its seen state.
func (s *Store) Remove(ctx context.Context, k Key) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE tenant_id=? AND platform=? AND entity_id=?`,
		k.Tenant, string(k.Platform), k.Entity)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM seen_state WHERE tenant_id=? AND platform=? AND entity_id=?`,
		k.Tenant, string(k.Platform), k.Entity)
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTemplate updates only the notification template.
func (s *Store) SetTemplate(ctx context.Context, k Key, template string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET template=? WHERE tenant_id=? AND platform=? AND entity_id=?`,
		template, k.Tenant, string(k.Platform), k.Entity)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTarget updates only the destination chat.
func (s *Store) SetTarget(ctx context.Context, k Key, chat transport.ChatTarget) error {
	if chat.IsZero() {
		return errors.New("store: chat target is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET chat_id=?, thread_id=? WHERE tenant_id=? AND platform=? AND entity_id=?`,
		chat.ChatID, chat.ThreadID, k.Tenant, string(k.Platform), k.Entity)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDisplay refreshes the cached display name from upstream data.
func (s *Store) SetDisplay(ctx context.Context, k Key, display string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET display=? WHERE tenant_id=? AND platform=? AND entity_id=?`,
		display, k.Tenant, string(k.Platform), k.Entity)
	return err
}

// ListPlatform returns every subscription on a platform across all
// tenants, ordered for stable poll sweeps.
func (s *Store) ListPlatform(ctx context.Context, p source.Platform) ([]Subscription, error) {
	return s.list(ctx,
		`SELECT tenant_id, platform, entity_id, display, chat_id, thread_id, template, created_at
		 FROM subscriptions WHERE platform=? ORDER BY tenant_id, entity_id`, string(p))
}

// ListTenant returns one tenant's subscriptions across all platforms.
func (s *Store) ListTenant(ctx context.Context, tenant string) ([]Subscription, error) {
	return s.list(ctx,
		`SELECT tenant_id, platform, entity_id, display, chat_id, thread_id, template, created_at
		 FROM subscriptions WHERE tenant_id=? ORDER BY platform, entity_id`, tenant)
}

func (s *Store) list(ctx context.Context, query string, arg any) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		var platform, created string
		if err := rows.Scan(&sub.Tenant, &platform, &sub.Entity, &sub.Display,
			&sub.Chat.ChatID, &sub.Chat.ThreadID, &sub.Template, &created); err != nil {
			return nil, err
		}
		sub.Platform = source.Platform(platform)
		sub.Created, _ = time.Parse(time.RFC3339, created)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// State loads the seen state for a key, returning the zero state when
// the entity was never polled.
func (s *Store) State(ctx context.Context, k Key) (SeenState, error) {
	var st SeenState
	var seenJSON, updated string
	var live int
	err := s.db.QueryRowContext(ctx,
		`SELECT last_id, seen_ids, live, msg_chat, msg_id, avatar_url, updated_at
		 FROM seen_state WHERE tenant_id=? AND platform=? AND entity_id=?`,
		k.Tenant, string(k.Platform), k.Entity,
	).Scan(&st.LastID, &seenJSON, &live, &st.Message.ChatID, &st.Message.MessageID, &st.AvatarURL, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return SeenState{}, nil
	}
	if err != nil {
		return SeenState{}, err
	}
	st.Live = live != 0
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	if err := json.Unmarshal([]byte(seenJSON), &st.SeenIDs); err != nil {
		// Corrupt history is recoverable; keep the last id and start over.
		s.log.Warn("seen id history unreadable, resetting",
			logx.String("tenant", k.Tenant), logx.String("entity", k.Entity), logx.Err(err))
		st.SeenIDs = nil
	}
	return st, nil
}

// SaveState upserts the seen state for a key.
func (s *Store) SaveState(ctx context.Context, k Key, st SeenState) error {
	if len(st.SeenIDs) > SeenIDCap {
		st.SeenIDs = st.SeenIDs[len(st.SeenIDs)-SeenIDCap:]
	}
	seenJSON, err := json.Marshal(st.SeenIDs)
	if err != nil {
		return err
	}
	live := 0
	if st.Live {
		live = 1
	}
	at := st.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO seen_state(tenant_id, platform, entity_id, last_id, seen_ids, live, msg_chat, msg_id, avatar_url, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(tenant_id, platform, entity_id) DO UPDATE SET
		   last_id=excluded.last_id, seen_ids=excluded.seen_ids, live=excluded.live,
		   msg_chat=excluded.msg_chat, msg_id=excluded.msg_id,
		   avatar_url=excluded.avatar_url, updated_at=excluded.updated_at`,
		k.Tenant, string(k.Platform), k.Entity,
		st.LastID, string(seenJSON), live,
		st.Message.ChatID, st.Message.MessageID, st.AvatarURL,
		at.UTC().Format(time.RFC3339),
	)
	return err
}
