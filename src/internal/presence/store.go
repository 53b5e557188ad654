package presence

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"session-relay-svc/src/internal/identity"
	"session-relay-svc/src/internal/models"

	"github.com/sirupsen/logrus"
)

// Record is the relay's belief about one connected identity. It is
// overwritten on every reconnection or stay-logged-in confirmation; it
// is not an audit log.
type Record struct {
	ID            int64     `json:"id"`
	Role          string    `json:"role"`
	AccountID     string    `json:"account_id,omitempty"`
	LastActivity  time.Time `json:"activity"`
	UserAgent     string    `json:"user_agent"`
	RemoteAddress string    `json:"ip_address"`
}

// Stats summarizes the live presence table for the admin API.
type Stats struct {
	Total     int `json:"total"`
	Users     int `json:"users"`
	Employees int `json:"employees"`
}

type Store interface {
	Upsert(key identity.Key, record Record) error
	Delete(key identity.Key) error
	ReadAll() map[string]Record
	GetStats() Stats
}

// fileStore keeps the authoritative table in memory and rewrites the
// snapshot file wholesale on every change. The snapshot exists for
// restart convenience only; a stale one from a previous run is discarded
// at construction, so a fresh process always reports empty presence.
type fileStore struct {
	mu      sync.Mutex
	records map[string]Record
	path    string
}

func NewStore(path string) Store {
	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).WithField("path", path).Warn("Failed to remove stale presence snapshot")
		}
	}

	return &fileStore{
		records: make(map[string]Record),
		path:    path,
	}
}

func (s *fileStore) Upsert(key identity.Key, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.ID = key.ID
	record.Role = key.Role.String()
	s.records[key.String()] = record

	logrus.WithFields(logrus.Fields{
		"identity":   key.String(),
		"account_id": record.AccountID,
	}).Debug("Presence record upserted")

	return s.snapshotLocked()
}

func (s *fileStore) Delete(key identity.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key.String()]; !ok {
		return nil
	}

	delete(s.records, key.String())
	logrus.WithField("identity", key.String()).Debug("Presence record deleted")

	return s.snapshotLocked()
}

func (s *fileStore) ReadAll() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

func (s *fileStore) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Total: len(s.records)}
	for _, record := range s.records {
		if record.Role == identity.RoleUser.String() {
			stats.Users++
		} else {
			stats.Employees++
		}
	}
	return stats
}

// snapshotLocked rewrites the snapshot file from the in-memory table.
// The table stays authoritative when the write fails; the error is
// surfaced so callers can log it, never to block admission.
func (s *fileStore) snapshotLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.records, "", "    ")
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal presence snapshot")
		return models.ErrSnapshotWrite
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		logrus.WithError(err).WithField("path", s.path).Error("Failed to write presence snapshot")
		return models.ErrSnapshotWrite
	}

	return nil
}
