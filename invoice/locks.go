package invoice

import (
	"context"
	"sync"

	"github.com/framehouse/studio-ledger/ledger"
)

// lockTable hands out one mutex per invoice. Entries are reference counted
// and removed when the last holder or waiter leaves.
type lockTable struct {
	mu    sync.Mutex
	locks map[ledger.InvoiceID]*invoiceLock
}

type invoiceLock struct {
	sem  chan struct{}
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[ledger.InvoiceID]*invoiceLock)}
}

// Lock blocks until the invoice is free or ctx is done. The returned func
// releases the lock and is safe to call more than once.
func (t *lockTable) Lock(ctx context.Context, id ledger.InvoiceID) (func(), error) {
	t.mu.Lock()
	l := t.locks[id]
	if l == nil {
		l = &invoiceLock{sem: make(chan struct{}, 1)}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		t.release(id, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			t.release(id, l)
		})
	}, nil
}

func (t *lockTable) release(id ledger.InvoiceID, l *invoiceLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, id)
	}
}

// size is the number of invoices with a holder or waiter.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
