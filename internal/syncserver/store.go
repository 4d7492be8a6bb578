package syncserver

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/lewisedginton/nutrisync/internal/model"
)

// StoredRecord is one synchronized record as the server persists it.
type StoredRecord struct {
	Key          string
	OwnerID      string
	Data         json.RawMessage
	LastModified model.Timestamp
}

// RecordStore is the server-side persistence interface. MemoryStore backs
// tests and single-node deployments; PostgresStore backs everything else.
type RecordStore interface {
	List(ctx context.Context, ownerID, collection string) ([]StoredRecord, error)
	Get(ctx context.Context, ownerID, collection, key string) (*StoredRecord, error)
	Upsert(ctx context.Context, ownerID, collection string, record StoredRecord) error
	Close()
}

// MemoryStore keeps records in process memory, keyed by owner, collection and
// record key.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]map[string]StoredRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]map[string]StoredRecord)}
}

func (s *MemoryStore) List(_ context.Context, ownerID, collection string) ([]StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKey := s.records[ownerID][collection]
	out := make([]StoredRecord, 0, len(byKey))
	for _, rec := range byKey {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, ownerID, collection, key string) (*StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[ownerID][collection][key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Upsert(_ context.Context, ownerID, collection string, record StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCollection, ok := s.records[ownerID]
	if !ok {
		byCollection = make(map[string]map[string]StoredRecord)
		s.records[ownerID] = byCollection
	}
	byKey, ok := byCollection[collection]
	if !ok {
		byKey = make(map[string]StoredRecord)
		byCollection[collection] = byKey
	}
	byKey[record.Key] = record
	return nil
}

func (s *MemoryStore) Close() {}
