// Package store implements the local persistence layer. Records are stored
// as one JSON document per key, grouped into per-collection directories, with
// a manifest file carrying the schema version.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/lewisedginton/nutrisync/pkg/logger"
)

const (
	manifestName  = "manifest.json"
	schemaVersion = 1
)

var (
	// ErrNotFound is returned when a key has no stored record.
	ErrNotFound = errors.New("record not found")
	// ErrNotReady is returned when the store failed initialization and
	// could not be repaired.
	ErrNotReady = errors.New("store is not ready")
)

type manifest struct {
	SchemaVersion int `json:"schemaVersion"`
}

// Store is a key-value document store backed by a FileProvider. All methods
// are safe for concurrent use.
type Store struct {
	provider FileProvider
	log      logger.Logger
	mu       sync.RWMutex
	ready    bool
}

// Open initializes a store rooted at dir. A missing directory is created; a
// corrupt store (unreadable or newer-schema manifest) is destroyed and
// recreated once. If the second attempt also fails the store is returned
// not-ready and every operation fails with ErrNotReady.
func Open(dir string, log logger.Logger) (*Store, error) {
	s := &Store{log: log}

	for attempt := 0; attempt < 2; attempt++ {
		provider, err := NewLocalFileProvider(dir)
		if err != nil {
			return s, fmt.Errorf("failed to open store: %w", err)
		}
		err = checkManifest(provider)
		if err == nil {
			s.provider = provider
			s.ready = true
			return s, nil
		}
		if attempt == 0 {
			log.Warn("local store is corrupt, recreating",
				logger.StringField("dir", dir),
				logger.ErrorField(err))
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				return s, fmt.Errorf("failed to reset corrupt store: %w", rmErr)
			}
			continue
		}
		return s, fmt.Errorf("store unusable after reset: %w", err)
	}
	return s, ErrNotReady
}

func checkManifest(provider FileProvider) error {
	exists, err := provider.Exists(manifestName)
	if err != nil {
		return err
	}
	if !exists {
		data, err := json.Marshal(manifest{SchemaVersion: schemaVersion})
		if err != nil {
			return err
		}
		return provider.Write(manifestName, data)
	}
	data, err := provider.Read(manifestName)
	if err != nil {
		return err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	if m.SchemaVersion > schemaVersion {
		return fmt.Errorf("manifest schema version %d is newer than supported %d",
			m.SchemaVersion, schemaVersion)
	}
	return nil
}

// Ready reports whether the store survived initialization.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func recordName(collection, key string) string {
	return collection + "/" + key + ".json"
}

// Get unmarshals the record for key into dest. Returns ErrNotFound when no
// record exists.
func (s *Store) Get(collection, key string, dest any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return ErrNotReady
	}
	exists, err := s.provider.Exists(recordName(collection, key))
	if err != nil {
		return fmt.Errorf("failed to check record: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	data, err := s.provider.Read(recordName(collection, key))
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal record %s/%s: %w", collection, key, err)
	}
	return nil
}

// Put marshals value and stores it under key, replacing any existing record.
func (s *Store) Put(collection, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotReady
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s/%s: %w", collection, key, err)
	}
	return s.provider.Write(recordName(collection, key), data)
}

// BatchPut stores every entry in items, skipping entries that fail to
// marshal or write. It returns the keys of the skipped entries alongside
// the aggregated errors, so callers can tell which writes actually landed.
func (s *Store) BatchPut(collection string, items map[string]any) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		skipped := make([]string, 0, len(items))
		for key := range items {
			skipped = append(skipped, key)
		}
		return skipped, ErrNotReady
	}
	var result error
	var skipped []string
	for key, value := range items {
		if key == "" || value == nil {
			skipped = append(skipped, key)
			result = multierror.Append(result, fmt.Errorf("skipped malformed item in %s: empty key or nil value", collection))
			continue
		}
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			skipped = append(skipped, key)
			result = multierror.Append(result, fmt.Errorf("skipped %s/%s: %w", collection, key, err))
			continue
		}
		if err := s.provider.Write(recordName(collection, key), data); err != nil {
			skipped = append(skipped, key)
			result = multierror.Append(result, fmt.Errorf("skipped %s/%s: %w", collection, key, err))
		}
	}
	return skipped, result
}

// Delete removes the record for key. Deleting a missing key is a no-op.
func (s *Store) Delete(collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotReady
	}
	return s.provider.Delete(recordName(collection, key))
}

// Keys lists the keys present in a collection.
func (s *Store) Keys(collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return nil, ErrNotReady
	}
	prefixed := NewPrefixedFileProvider(s.provider, collection)
	names, err := prefixed.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %s: %w", collection, err)
	}
	keys := make([]string, 0, len(names))
	for _, name := range names {
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

// ListAll returns the raw JSON documents of a collection keyed by record key.
// Documents that fail to read are skipped with a warning rather than failing
// the whole listing.
func (s *Store) ListAll(collection string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return nil, ErrNotReady
	}
	prefixed := NewPrefixedFileProvider(s.provider, collection)
	names, err := prefixed.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %s: %w", collection, err)
	}
	records := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		data, err := prefixed.Read(name)
		if err != nil {
			s.log.Warn("skipping unreadable record",
				logger.StringField("collection", collection),
				logger.StringField("file", name),
				logger.ErrorField(err))
			continue
		}
		records[strings.TrimSuffix(name, ".json")] = json.RawMessage(data)
	}
	return records, nil
}

// Clear removes every record in a collection.
func (s *Store) Clear(collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return ErrNotReady
	}
	prefixed := NewPrefixedFileProvider(s.provider, collection)
	names, err := prefixed.List()
	if err != nil {
		return fmt.Errorf("failed to list collection %s: %w", collection, err)
	}
	var result error
	for _, name := range names {
		if err := prefixed.Delete(name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
