package configstore

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/meshdns-controller/meshdns-controller/internal/apperrors"
)

// documentKey is the single key this package's Store implementations use
// to read and write the whole configuration document.
const documentKey = "config"

// Store is the generic KV contract spec §4.1 requires: byte-oriented
// Get/Put over string keys, so a future backend (object storage, a KV
// service) can implement it without this package depending on that
// backend's SDK.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// InMemoryStore is a mutex-guarded map[string][]byte, grounded on
// storage/inmemory.go's InMemoryStorage shape.
type InMemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string][]byte)}
}

func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *InMemoryStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// FileStore persists the document as a single JSON file, guarded by the
// same in-process mutex pattern as InMemoryStore; Put writes the whole
// file, there is no partial update.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewAppError("read config file", err)
	}
	return data, true, nil
}

func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path, value, 0o600); err != nil {
		return apperrors.NewAppError("write config file", err)
	}
	return nil
}

// ConfigStore wraps a Store with the document-level Load/Save API the
// rest of the controller uses, including secret masking on read and
// read-merge-write mask preservation on write.
type ConfigStore struct {
	backing Store
}

func New(backing Store) *ConfigStore {
	return &ConfigStore{backing: backing}
}

// Load reads and unmarshals the document with its secrets in the clear;
// LoadMasked is the display variant. Returns a zero-value Document, no
// error, if nothing has been stored yet.
func (c *ConfigStore) Load(ctx context.Context) (*Document, error) {
	raw, ok, err := c.backing.Get(ctx, documentKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.WrapConfigError("stored configuration is not valid JSON", err)
	}
	return &doc, nil
}

// LoadMasked reads the document with every secret field replaced by the
// mask literal, for display in a UI or API response.
func (c *ConfigStore) LoadMasked(ctx context.Context) (*Document, error) {
	doc, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}
	masked := *doc
	masked.Credentials = maskCredentials(doc.Credentials)
	return &masked, nil
}

// Save validates incoming against the schema, merges any mask-literal
// secret fields with the previously stored value (spec invariant 8: a
// write carrying the mask literal preserves the prior secret instead of
// overwriting it with the literal), and writes the result.
func (c *ConfigStore) Save(ctx context.Context, incoming *Document) error {
	prior, err := c.Load(ctx)
	if err != nil {
		return err
	}

	merged := *incoming
	merged.Credentials = resolveMaskedCredentials(incoming.Credentials, prior.Credentials)

	if err := Validate(&merged); err != nil {
		return err
	}

	raw, err := json.Marshal(&merged)
	if err != nil {
		return apperrors.NewAppError("marshal configuration", err)
	}
	return c.backing.Put(ctx, documentKey, raw)
}
