// Package cache provides a SQLite-backed snapshot store for locally cached
// menu records. Snapshots feed conflict detection: the store holds the
// client's last known view of each record, and incoming change-feed events
// are applied to keep it current.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	stdSync "sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roastline/menusync/conflict"
	"github.com/roastline/menusync/errors"
	"github.com/roastline/menusync/feed"
	"github.com/roastline/menusync/logging"
)

const (
	opGet    = "cache.Get"
	opPut    = "cache.Put"
	opDelete = "cache.Delete"
	opList   = "cache.List"
	opApply  = "cache.Apply"
	opProbe  = "cache.Probe"
)

var (
	// ErrNotFound reports a missing snapshot.
	ErrNotFound = stdErrors.New("snapshot not found")

	// ErrStoreClosed reports use after Close.
	ErrStoreClosed = stdErrors.New("snapshot store is closed")
)

// Config holds configuration options for the snapshot store.
type Config struct {
	// DataSourceName is the SQLite connection string.
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, "?_journal_mode=WAL" is appended to DataSourceName unless
	// a journal mode is already present.
	EnableWAL bool

	// TableName defaults to "snapshots".
	TableName string

	// Connection pool settings. Defaults: MaxOpen=25, MaxIdle=5,
	// Lifetime=1h, IdleTime=5m.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	Logger *logging.Logger
}

func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "snapshots"
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with WAL mode and pooling defaults applied.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// Store is a SQLite-backed snapshot store. It also serves as the health
// prober: Probe issues the minimal round-trip read the health monitor times.
type Store struct {
	db        *sql.DB
	logger    *logging.Logger
	tableName string

	mu     stdSync.RWMutex
	closed bool
}

// New opens (or creates) the snapshot database described by config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := config.Logger.WithComponent(logging.Component("cache"))
	logger.Info("opening snapshot database",
		"data_source", config.DataSourceName, "wal_enabled", config.EnableWAL)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to snapshot database: %w", err)
	}

	store := &Store{
		db:        db,
		logger:    logger,
		tableName: config.TableName,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setup snapshot schema: %w", err)
	}

	return store, nil
}

// NewWithDataSource opens a store with default configuration.
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

func (s *Store) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        resource    TEXT NOT NULL,
        id          TEXT NOT NULL,
        data        TEXT NOT NULL,
        created_at  TIMESTAMP NOT NULL,
        updated_at  TIMESTAMP NOT NULL,
        PRIMARY KEY (resource, id)
    );
    CREATE INDEX IF NOT EXISTS idx_snapshots_updated_at ON %s (updated_at);
    `, s.tableName, s.tableName)
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Get returns the cached snapshot for one record, or ErrNotFound.
func (s *Store) Get(ctx context.Context, resource, id string) (*conflict.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT data, created_at, updated_at FROM %s WHERE resource = ? AND id = ?`,
		s.tableName)

	var raw string
	snap := &conflict.Snapshot{Resource: resource, ID: id}
	err := s.db.QueryRowContext(ctx, query, resource, id).
		Scan(&raw, &snap.CreatedAt, &snap.UpdatedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.WrapOpComponent(err, opGet, "cache")
	}

	if err := json.Unmarshal([]byte(raw), &snap.Data); err != nil {
		return nil, errors.WrapOpComponent(err, opGet, "cache")
	}
	return snap, nil
}

// Put upserts one snapshot. CreatedAt is preserved for existing rows.
func (s *Store) Put(ctx context.Context, snap *conflict.Snapshot) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if snap == nil || snap.Resource == "" || snap.ID == "" {
		return errors.NewValidationError(opPut, fmt.Errorf("snapshot needs resource and id"))
	}

	raw, err := json.Marshal(snap.Data)
	if err != nil {
		return errors.WrapOpComponent(err, opPut, "cache")
	}

	createdAt := snap.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	query := fmt.Sprintf(`
    INSERT INTO %s (resource, id, data, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?)
    ON CONFLICT (resource, id) DO UPDATE SET
        data = excluded.data,
        updated_at = excluded.updated_at
    `, s.tableName)

	if _, err := s.db.ExecContext(ctx, query,
		snap.Resource, snap.ID, string(raw), createdAt, updatedAt); err != nil {
		return errors.WrapOpComponent(err, opPut, "cache")
	}
	return nil
}

// Delete removes one snapshot. Deleting a missing row is a no-op.
func (s *Store) Delete(ctx context.Context, resource, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE resource = ? AND id = ?`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, resource, id); err != nil {
		return errors.WrapOpComponent(err, opDelete, "cache")
	}
	return nil
}

// List returns every cached snapshot for one resource, most recently
// updated first.
func (s *Store) List(ctx context.Context, resource string) ([]*conflict.Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT id, data, created_at, updated_at FROM %s WHERE resource = ? ORDER BY updated_at DESC`,
		s.tableName)
	rows, err := s.db.QueryContext(ctx, query, resource)
	if err != nil {
		return nil, errors.WrapOpComponent(err, opList, "cache")
	}
	defer rows.Close()

	var snaps []*conflict.Snapshot
	for rows.Next() {
		var raw string
		snap := &conflict.Snapshot{Resource: resource}
		if err := rows.Scan(&snap.ID, &raw, &snap.CreatedAt, &snap.UpdatedAt); err != nil {
			return nil, errors.WrapOpComponent(err, opList, "cache")
		}
		if err := json.Unmarshal([]byte(raw), &snap.Data); err != nil {
			return nil, errors.WrapOpComponent(err, opList, "cache")
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapOpComponent(err, opList, "cache")
	}
	return snaps, nil
}

// Apply folds one change-feed event into the store: inserts and updates
// upsert the record's payload, deletes remove the row.
func (s *Store) Apply(ctx context.Context, change feed.Change) error {
	id := change.RecordID()
	if id == "" {
		return errors.NewValidationError(opApply, fmt.Errorf("change carries no record id"))
	}

	if change.Kind == feed.KindDelete {
		return s.Delete(ctx, change.Resource, id)
	}

	ts := change.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return s.Put(ctx, &conflict.Snapshot{
		Resource:  change.Resource,
		ID:        id,
		Data:      change.Record(),
		CreatedAt: ts,
		UpdatedAt: ts,
	})
}

// Probe issues a minimal read. Only the round-trip time matters.
func (s *Store) Probe(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return errors.NewProbeError(err)
	}
	return nil
}

// Stats returns connection pool statistics for monitoring.
func (s *Store) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// Close closes the database connection. It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
