package storage

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps objects in process memory. Used for local runs and tests.
type Memory struct {
	scheme string
	bucket string

	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemory(scheme, bucket string) *Memory {
	return &Memory{scheme: scheme, bucket: bucket, objects: make(map[string]Object)}
}

func (m *Memory) Scheme() string { return m.scheme }
func (m *Memory) Bucket() string { return m.bucket }

func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	m.objects[m.bucket+"/"+key] = Object{Data: cp, ContentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, loc Locator) (Object, error) {
	m.mu.RLock()
	obj, ok := m.objects[loc.Bucket+"/"+loc.Key]
	m.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, loc)
	}
	cp := make([]byte, len(obj.Data))
	copy(cp, obj.Data)
	return Object{Data: cp, ContentType: obj.ContentType}, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
