// Package syncserver implements the reference remote side of the sync
// protocol: a versioned HTTP API holding one record per owner, collection and
// key, resolving concurrent writers by last-modified timestamp.
package syncserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lewisedginton/nutrisync/internal/model"
	"github.com/lewisedginton/nutrisync/internal/remote"
	"github.com/lewisedginton/nutrisync/pkg/logger"
)

type ownerContextKey struct{}

// Server exposes GET/POST /sync/{collection} over a RecordStore.
type Server struct {
	store       RecordStore
	tokenOwners map[string]string
	log         logger.Logger
}

// NewServer builds a sync server. tokenOwners maps bearer tokens to the owner
// ID whose records they grant access to.
func NewServer(store RecordStore, tokenOwners map[string]string, log logger.Logger) *Server {
	return &Server{store: store, tokenOwners: tokenOwners, log: log}
}

// Routes mounts the sync endpoints on a router.
func (s *Server) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/sync/{collection}", s.handleList)
		r.Post("/sync/{collection}", s.handlePush)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		owner, ok := s.tokenOwners[token]
		if token == "" || !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerContextKey{}, owner)))
	})
}

func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey{}).(string)
	return owner
}

func validCollection(name string) bool {
	for _, c := range model.SyncedCollections() {
		if c == name {
			return true
		}
	}
	return false
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(remote.APIError{Code: code, Message: message})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !validCollection(collection) {
		writeAPIError(w, http.StatusNotFound, "unknown_collection", "no such collection: "+collection)
		return
	}
	owner := ownerFromContext(r.Context())

	stored, err := s.store.List(r.Context(), owner, collection)
	if err != nil {
		s.log.Error("failed to list records", logger.ErrorField(err),
			logger.StringField("collection", collection))
		writeAPIError(w, http.StatusInternalServerError, "storage_error", "failed to list records")
		return
	}

	out := make([]remote.SyncRecord, 0, len(stored))
	for _, rec := range stored {
		out = append(out, remote.SyncRecord{
			Key:          rec.Key,
			OwnerID:      rec.OwnerID,
			Data:         rec.Data,
			LastModified: rec.LastModified,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !validCollection(collection) {
		writeAPIError(w, http.StatusNotFound, "unknown_collection", "no such collection: "+collection)
		return
	}
	owner := ownerFromContext(r.Context())

	var items []remote.PushItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_body", "body must be an array of push items")
		return
	}

	for _, item := range items {
		if item.Key == "" {
			writeAPIError(w, http.StatusBadRequest, "missing_key", "every push item needs a key")
			return
		}
		patch, err := decodeObject(item.DataPatch)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid_patch", "dataPatch must be a JSON object")
			return
		}
		if err := s.applyPatch(r.Context(), owner, collection, item, patch); err != nil {
			s.log.Error("failed to apply patch", logger.ErrorField(err),
				logger.StringField("collection", collection),
				logger.StringField("key", item.Key))
			writeAPIError(w, http.StatusInternalServerError, "storage_error", "failed to apply patch")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// applyPatch resolves a concurrent write by timestamp: an incoming item only
// replaces stored fields when its lastModified is strictly newer; otherwise
// the stored record stands. Patches merge shallowly so a writer that only
// changed one field never clobbers the rest.
func (s *Server) applyPatch(ctx context.Context, owner, collection string, item remote.PushItem, patch map[string]json.RawMessage) error {
	stored, err := s.store.Get(ctx, owner, collection, item.Key)
	if err != nil {
		return err
	}

	if stored == nil {
		data, err := json.Marshal(patch)
		if err != nil {
			return err
		}
		return s.store.Upsert(ctx, owner, collection, StoredRecord{
			Key:          item.Key,
			OwnerID:      owner,
			Data:         data,
			LastModified: item.LastModified,
		})
	}

	if item.LastModified <= stored.LastModified {
		return nil
	}

	merged, err := decodeObject(stored.Data)
	if err != nil {
		// Stored data is unreadable; the incoming patch replaces it wholesale.
		merged = make(map[string]json.RawMessage)
	}
	for field, value := range patch {
		merged[field] = value
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return s.store.Upsert(ctx, owner, collection, StoredRecord{
		Key:          item.Key,
		OwnerID:      owner,
		Data:         data,
		LastModified: item.LastModified,
	})
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	obj := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
