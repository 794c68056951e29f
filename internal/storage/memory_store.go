package storage

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore はプロセス内メモリにオブジェクトを保持するThumbnailStore。
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

// Put はオブジェクトを保存する。
func (s *MemoryStore) Put(_ context.Context, key, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{Data: bytes.Clone(data), ContentType: contentType}
	return nil
}

// Get はオブジェクトを取得する。
func (s *MemoryStore) Get(_ context.Context, key string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{Data: bytes.Clone(obj.Data), ContentType: obj.ContentType}, nil
}

// Remove はオブジェクトを削除する。
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Len は保存済みオブジェクト数を返す。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// compile-time interface check
var _ ThumbnailStore = (*MemoryStore)(nil)
