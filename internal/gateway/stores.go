package gateway

import "sync"

// threadStores maps conversation threads to their ephemeral document
// index. A new document batch in the same thread reuses the index;
// state lives in process memory only.
type threadStores struct {
	mu sync.Mutex
	m  map[string]string
}

func newThreadStores() *threadStores {
	return &threadStores{m: make(map[string]string)}
}

func (s *threadStores) Get(threadKey string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[threadKey]
}

func (s *threadStores) Set(threadKey, storeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[threadKey] = storeID
}
