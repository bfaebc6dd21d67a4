// Package snapshot imports crawler-published equipment snapshots into
// the local store. A snapshot is a gzip-compressed JSON array of
// equipment records, loaded from a local file or downloaded from R2,
// with background polling for updates.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/kikidoko/kikidoko-go/internal/equipment"
	"github.com/kikidoko/kikidoko-go/internal/logger"
	"github.com/kikidoko/kikidoko-go/internal/normalize"
	"github.com/kikidoko/kikidoko-go/internal/r2client"
	"github.com/kikidoko/kikidoko-go/internal/store"
)

// ErrNotFound indicates no snapshot exists at the configured location.
var ErrNotFound = errors.New("snapshot: not found")

// Config holds snapshot manager configuration.
type Config struct {
	SnapshotKey  string        // R2 object key (e.g., "snapshots/equipment.json.gz")
	LocalPath    string        // Local snapshot file, used when no R2 client is set
	PollInterval time.Duration // How often to check R2 for a new snapshot
}

// Manager loads snapshots into the store and keeps them fresh.
type Manager struct {
	client *r2client.Client // nil means local-only
	db     *store.SQLiteStore
	log    *logger.Logger
	config Config

	mu          sync.RWMutex
	currentETag string

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a snapshot manager. client may be nil for local-only use.
func New(client *r2client.Client, db *store.SQLiteStore, log *logger.Logger, cfg Config) *Manager {
	return &Manager{
		client:   client,
		db:       db,
		log:      log.WithModule("snapshot"),
		config:   cfg,
		pollDone: make(chan struct{}),
	}
}

// Load performs the initial import: from R2 when a client is configured,
// otherwise from the local path. Returns the number of records imported.
func (m *Manager) Load(ctx context.Context) (int, error) {
	if m.client != nil {
		return m.loadRemote(ctx)
	}
	return m.loadLocal(ctx)
}

func (m *Manager) loadLocal(ctx context.Context) (int, error) {
	if m.config.LocalPath == "" {
		return 0, ErrNotFound
	}
	f, err := os.Open(m.config.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("snapshot: open %q: %w", m.config.LocalPath, err)
	}
	defer f.Close()
	return m.importStream(ctx, f)
}

func (m *Manager) loadRemote(ctx context.Context) (int, error) {
	body, etag, err := m.client.Download(ctx, m.config.SnapshotKey)
	if err != nil {
		if errors.Is(err, r2client.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("snapshot: download: %w", err)
	}
	defer body.Close()

	n, err := m.importStream(ctx, body)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.currentETag = etag
	m.mu.Unlock()
	return n, nil
}

// importStream decodes a gzip JSON snapshot and writes it to the store,
// filling in search tokens and alias keys for records the crawler left
// bare.
func (m *Manager) importStream(ctx context.Context, r io.Reader) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("snapshot: gzip: %w", err)
	}
	defer gz.Close()

	var records []equipment.Record
	if err := json.NewDecoder(gz).Decode(&records); err != nil {
		return 0, fmt.Errorf("snapshot: decode: %w", err)
	}

	batch := make([]*equipment.Record, 0, len(records))
	for i := range records {
		rec := &records[i]
		if rec.ID == "" || rec.Name == "" {
			continue
		}
		if len(rec.SearchTokens) == 0 {
			rec.SearchTokens = normalize.SearchTokens(rec.Name, rec.CategoryGeneral, rec.CategoryDetail, rec.OrgName)
		}
		if len(rec.SearchAliases) == 0 {
			rec.SearchAliases = normalize.SearchAliases(rec.Name, rec.CategoryGeneral, rec.CategoryDetail)
		}
		batch = append(batch, rec)
	}

	if err := m.db.PutBatch(ctx, batch); err != nil {
		return 0, fmt.Errorf("snapshot: import: %w", err)
	}
	m.log.Infof("snapshot imported: %d records (%d skipped)", len(batch), len(records)-len(batch))
	return len(batch), nil
}

// StartPolling watches R2 for a new snapshot ETag and reimports when one
// appears. No-op when running without an R2 client.
func (m *Manager) StartPolling(ctx context.Context) {
	if m.client == nil || m.config.PollInterval <= 0 {
		close(m.pollDone)
		return
	}

	pollCtx, cancel := context.WithCancel(ctx)
	m.pollCancel = cancel

	go func() {
		defer close(m.pollDone)

		ticker := time.NewTicker(m.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pollCtx.Done():
				m.log.Info("snapshot polling stopped")
				return
			case <-ticker.C:
				m.pollOnce(pollCtx)
			}
		}
	}()

	m.log.WithField("interval", m.config.PollInterval.String()).
		WithField("snapshot_key", m.config.SnapshotKey).
		Info("snapshot polling started")
}

func (m *Manager) pollOnce(ctx context.Context) {
	m.mu.RLock()
	currentETag := m.currentETag
	m.mu.RUnlock()

	remoteETag, err := m.client.HeadObject(ctx, m.config.SnapshotKey)
	if err != nil {
		if !errors.Is(err, r2client.ErrNotFound) {
			m.log.WithError(err).Warn("snapshot poll: head object failed")
		}
		return
	}
	if remoteETag == currentETag {
		return
	}

	m.log.WithField("old_etag", currentETag).
		WithField("new_etag", remoteETag).
		Info("new snapshot detected, reimporting")

	if _, err := m.loadRemote(ctx); err != nil {
		m.log.WithError(err).Error("snapshot poll: reimport failed")
	}
}

// StopPolling stops the background polling goroutine.
func (m *Manager) StopPolling() {
	if m.pollCancel != nil {
		m.pollCancel()
		<-m.pollDone
	}
}

// CurrentETag returns the ETag of the snapshot currently imported.
func (m *Manager) CurrentETag() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentETag
}
