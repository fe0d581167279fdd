package keystore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// MemStore is an in-memory Repository. InTx snapshots both maps and
// restores them when fn fails. Writes outside InTx take the same lock as a
// transaction, so a rollback never discards them.
type MemStore struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	containers map[string]*Container           // id → container
	index      map[string]map[string]*IndexRow // container id → alias → row
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		containers: make(map[string]*Container),
		index:      make(map[string]map[string]*IndexRow),
	}
}

func cloneRow(r *IndexRow) *IndexRow {
	cp := *r
	return &cp
}

// GetContainer returns a copy of the container with the given id.
func (s *MemStore) GetContainer(_ context.Context, id string) (*Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.containers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	}
	return c.clone(), nil
}

// CreateContainer stores a new container. The id must be unused.
func (s *MemStore) CreateContainer(ctx context.Context, c *Container) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.createContainer(ctx, c)
}

func (s *MemStore) createContainer(_ context.Context, c *Container) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("container id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.containers[c.ID]; exists {
		return fmt.Errorf("container %s already exists", c.ID)
	}
	s.containers[c.ID] = c.clone()
	return nil
}

// SaveContainer replaces the stored container if its version still equals
// expectedVersion.
func (s *MemStore) SaveContainer(ctx context.Context, c *Container, expectedVersion int64) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.saveContainer(ctx, c, expectedVersion)
}

func (s *MemStore) saveContainer(_ context.Context, c *Container, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.containers[c.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, c.ID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: container %s is at version %d, expected %d", ErrVersionConflict, c.ID, cur.Version, expectedVersion)
	}
	s.containers[c.ID] = c.clone()
	return nil
}

// ListContainers returns copies of all containers ordered by creation time.
func (s *MemStore) ListContainers(_ context.Context) ([]*Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Container, 0, len(s.containers))
	for _, c := range s.containers {
		out = append(out, c.clone())
	}
	slices.SortFunc(out, func(a, b *Container) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// UpsertIndexRow inserts or replaces the row for (row.ContainerID, row.Alias).
func (s *MemStore) UpsertIndexRow(ctx context.Context, row *IndexRow) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.upsertIndexRow(ctx, row)
}

func (s *MemStore) upsertIndexRow(_ context.Context, row *IndexRow) error {
	if row == nil || row.Alias == "" || row.ContainerID == "" {
		return fmt.Errorf("index row requires alias and container id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.index[row.ContainerID]
	if !ok {
		rows = make(map[string]*IndexRow)
		s.index[row.ContainerID] = rows
	}
	rows[row.Alias] = cloneRow(row)
	return nil
}

// DeleteIndexRow removes the row for (containerID, alias) if present.
func (s *MemStore) DeleteIndexRow(ctx context.Context, containerID, alias string) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.deleteIndexRow(ctx, containerID, alias)
}

func (s *MemStore) deleteIndexRow(_ context.Context, containerID, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index[containerID], alias)
	return nil
}

// FindIndexRow returns a copy of the row for (containerID, alias), or nil.
func (s *MemStore) FindIndexRow(_ context.Context, containerID, alias string) (*IndexRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.index[containerID][alias]
	if !ok {
		return nil, nil
	}
	return cloneRow(row), nil
}

// ListIndexRows returns the rows of one container in alias order.
func (s *MemStore) ListIndexRows(ctx context.Context, containerID string) ([]*IndexRow, error) {
	return s.SearchIndexRows(ctx, IndexQuery{ContainerID: containerID})
}

// SearchIndexRows returns all rows matching q, ordered by container id and
// alias.
func (s *MemStore) SearchIndexRows(_ context.Context, q IndexQuery) ([]*IndexRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*IndexRow
	for _, rows := range s.index {
		for _, row := range rows {
			if q.matches(row) {
				out = append(out, cloneRow(row))
			}
		}
	}
	slices.SortFunc(out, func(a, b *IndexRow) int {
		if c := strings.Compare(a.ContainerID, b.ContainerID); c != 0 {
			return c
		}
		return strings.Compare(a.Alias, b.Alias)
	})
	return out, nil
}

// InTx runs fn against the store and rolls back every write fn made if it
// returns an error.
func (s *MemStore) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	containers, index := s.snapshot()
	if err := fn(memTx{s}); err != nil {
		s.mu.Lock()
		s.containers, s.index = containers, index
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemStore) snapshot() (map[string]*Container, map[string]map[string]*IndexRow) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	containers := make(map[string]*Container, len(s.containers))
	for id, c := range s.containers {
		containers[id] = c.clone()
	}
	index := make(map[string]map[string]*IndexRow, len(s.index))
	for id, rows := range s.index {
		index[id] = maps.Clone(rows)
	}
	return containers, index
}

// memTx is the Repository handed to InTx callbacks. Nested InTx calls join
// the outer transaction.
type memTx struct {
	*MemStore
}

func (t memTx) InTx(_ context.Context, fn func(tx Repository) error) error {
	return fn(t)
}

func (t memTx) CreateContainer(ctx context.Context, c *Container) error {
	return t.createContainer(ctx, c)
}

func (t memTx) SaveContainer(ctx context.Context, c *Container, expectedVersion int64) error {
	return t.saveContainer(ctx, c, expectedVersion)
}

func (t memTx) UpsertIndexRow(ctx context.Context, row *IndexRow) error {
	return t.upsertIndexRow(ctx, row)
}

func (t memTx) DeleteIndexRow(ctx context.Context, containerID, alias string) error {
	return t.deleteIndexRow(ctx, containerID, alias)
}
