package store

import (
	"fmt"
	"slices"
)

// Repository gives typed access to one table. Reads go straight to committed
// state, writes are queued on the owning unit of work.
type Repository[T any] struct {
	uow   *UnitOfWork
	table *table[T]
}

func newRepository[T any](uow *UnitOfWork, t *table[T]) *Repository[T] {
	return &Repository[T]{uow: uow, table: t}
}

// GetByID returns a copy of the committed row, or ErrNotFound.
func (r *Repository[T]) GetByID(id string) (*T, error) {
	r.uow.store.mu.RLock()
	defer r.uow.store.mu.RUnlock()

	row, ok := r.table.rows[id]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", r.table.name, id, ErrNotFound)
	}
	row = r.table.clone(row)
	return &row, nil
}

// Find returns copies of the committed rows matching pred, ordered by key.
func (r *Repository[T]) Find(pred func(*T) bool) []*T {
	r.uow.store.mu.RLock()
	defer r.uow.store.mu.RUnlock()

	keys := make([]string, 0, len(r.table.rows))
	for k := range r.table.rows {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var out []*T
	for _, k := range keys {
		row := r.table.clone(r.table.rows[k])
		if pred == nil || pred(&row) {
			out = append(out, &row)
		}
	}
	return out
}

// GetAll returns copies of every committed row, ordered by key.
func (r *Repository[T]) GetAll() []*T {
	return r.Find(nil)
}

// Add queues an insert. Commit fails with ErrDuplicateKey if the key exists.
func (r *Repository[T]) Add(entity *T) error {
	row := r.table.clone(*entity)
	key := r.table.key(&row)
	return r.uow.enqueue(mutation{
		table:  r.table.name,
		key:    key,
		exists: func() bool { return r.table.has(key) },
		check: func(present bool) error {
			if present {
				return fmt.Errorf("%s %q: %w", r.table.name, key, ErrDuplicateKey)
			}
			return nil
		},
		present: true,
		apply:   func() { r.table.rows[key] = row },
	})
}

// Update queues a full replacement of the row with the same key. Commit
// fails with ErrNotFound if the row is gone. Last writer wins.
func (r *Repository[T]) Update(entity *T) error {
	return r.UpdateIf(entity, nil)
}

// UpdateIf is Update guarded by cond, which is evaluated against the
// committed row inside the commit critical section. A false cond fails the
// whole commit with ErrPreconditionFailed.
func (r *Repository[T]) UpdateIf(entity *T, cond func(current *T) bool) error {
	row := r.table.clone(*entity)
	key := r.table.key(&row)
	return r.uow.enqueue(mutation{
		table:  r.table.name,
		key:    key,
		exists: func() bool { return r.table.has(key) },
		check: func(present bool) error {
			if !present {
				return fmt.Errorf("%s %q: %w", r.table.name, key, ErrNotFound)
			}
			if cond == nil {
				return nil
			}
			current, ok := r.table.rows[key]
			if !ok {
				return fmt.Errorf("%s %q: %w", r.table.name, key, ErrPreconditionFailed)
			}
			current = r.table.clone(current)
			if !cond(&current) {
				return fmt.Errorf("%s %q: %w", r.table.name, key, ErrPreconditionFailed)
			}
			return nil
		},
		present: true,
		apply:   func() { r.table.rows[key] = row },
	})
}

// Remove queues a delete. Removing a missing row is a no-op.
func (r *Repository[T]) Remove(id string) error {
	return r.uow.enqueue(mutation{
		table:   r.table.name,
		key:     id,
		exists:  func() bool { return r.table.has(id) },
		check:   func(bool) error { return nil },
		present: false,
		apply:   func() { delete(r.table.rows, id) },
	})
}
