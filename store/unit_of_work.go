package store

import "github.com/pilab-dev/shadow-idp/domain"

// mutation is one buffered write. exists and check run under the exclusive
// lock before anything is applied; apply runs only if the whole batch passed.
type mutation struct {
	table   string
	key     string
	exists  func() bool
	check   func(present bool) error
	present bool
	apply   func()
}

// UnitOfWork buffers writes for one request. It is not safe for concurrent
// use and cannot be reused after Commit or Rollback.
type UnitOfWork struct {
	store   *Store
	pending []mutation
	done    bool

	Tenants   *Repository[domain.Tenant]
	Clients   *Repository[domain.Client]
	Users     *Repository[domain.User]
	AuthCodes *Repository[domain.AuthCode]
	Tokens    *Repository[domain.Token]
	Consents  *Repository[domain.ConsentGrant]
}

func (u *UnitOfWork) enqueue(m mutation) error {
	if u.done {
		return ErrUnitClosed
	}
	if m.key == "" {
		return ErrEmptyKey
	}
	u.pending = append(u.pending, m)
	return nil
}

// Pending returns the number of buffered mutations.
func (u *UnitOfWork) Pending() int {
	return len(u.pending)
}

// Commit validates and applies every buffered mutation in order as one
// batch under the store's exclusive lock. If any mutation fails validation
// nothing is applied and the unit is closed.
func (u *UnitOfWork) Commit() error {
	if u.done {
		return ErrUnitClosed
	}
	u.done = true
	pending := u.pending
	u.pending = nil

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	staged := make(map[string]bool, len(pending))
	for _, m := range pending {
		id := m.table + "\x00" + m.key
		present, ok := staged[id]
		if !ok {
			present = m.exists()
		}
		if err := m.check(present); err != nil {
			return err
		}
		staged[id] = m.present
	}

	for _, m := range pending {
		m.apply()
	}
	return nil
}

// Rollback discards the buffer. Calling it after Commit is a no-op, so it
// is safe to defer.
func (u *UnitOfWork) Rollback() {
	u.done = true
	u.pending = nil
}
