package store

import (
	"context"
	"sync"

	"github.com/trialkey-service/internal/model"
)

// Memory is a non-durable backend for development and tests. Load and Save
// copy the database so callers never share records with the backend.
type Memory struct {
	mu sync.Mutex
	db *model.KeyDatabase
}

func NewMemory() *Memory {
	return &Memory{db: model.NewKeyDatabase()}
}

func (m *Memory) Init(context.Context) error { return nil }

func (m *Memory) Load(context.Context) (*model.KeyDatabase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Clone(), nil
}

func (m *Memory) Save(_ context.Context, db *model.KeyDatabase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db = db.Clone()
	return nil
}
