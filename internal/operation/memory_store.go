package operation

import (
	"context"
	"sort"
	"sync"

	xerrors "OpenMCP-Bank/internal/errors"
)

// MemoryStore 是审计记录的内存实现。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建空的内存审计存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Create 写入新记录，ID 重复时返回冲突错误。
func (s *MemoryStore) Create(_ context.Context, record Record) error {
	if err := record.Check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return xerrors.New(xerrors.CodeConflict, "operation already exists")
	}
	s.records[record.ID] = record.Clone()
	return nil
}

// Get 返回记录副本。
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound(id)
	}
	return record.Clone(), nil
}

// Update 以 from 为期望状态覆盖记录。
func (s *MemoryStore) Update(_ context.Context, record Record, from Status) error {
	if err := record.Check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[record.ID]
	if !ok {
		return ErrNotFound(record.ID)
	}
	if existing.Executed {
		return xerrors.New(xerrors.CodeConflict, "executed operation is immutable")
	}
	if existing.CallerID != record.CallerID || existing.Type != record.Type {
		return xerrors.New(xerrors.CodeConflict, "operation owner and type are immutable")
	}
	if existing.Status != from {
		return xerrors.New(xerrors.CodeConflict, "operation status changed concurrently",
			xerrors.WithMetadata("operation_id", record.ID), xerrors.WithMetadata("status", string(existing.Status)))
	}
	s.records[record.ID] = record.Clone()
	return nil
}

// ListByCaller 按创建时间倒序返回调用方的记录。
func (s *MemoryStore) ListByCaller(_ context.Context, callerID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0)
	for _, record := range s.records {
		if record.CallerID == callerID {
			out = append(out, record.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
