package services

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// MockStore is an in-memory Store for tests.
type MockStore struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: map[string]string{},
	}
}

func (store *MockStore) Get(key string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if value, ok := store.data[key]; ok {
		return value, nil
	}
	return "", errors.Errorf("key missing: %s", key)
}

func (store *MockStore) Set(key string, value string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.data == nil {
		store.data = map[string]string{}
	}
	store.data[key] = value
	return nil
}

func (store *MockStore) SetWithTTL(key string, value string, ttl uint64) error {
	return store.Set(key, value)
}

func (store *MockStore) Delete(key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.data, key)
	return nil
}

func (store *MockStore) GetRecursive(prefix string) ([]Node, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var ret []Node
	for key, value := range store.data {
		if strings.HasPrefix(key, prefix) {
			ret = append(ret, Node{Key: key, Value: value})
		}
	}

	return ret, nil
}
