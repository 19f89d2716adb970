package mutation

import (
	"sync"

	"nestedgraph/internal/store"
)

// txScope owns the transaction of one top-level operation.
type txScope struct {
	tx        store.Tx
	hasError  bool
	finalized bool
	mu        sync.Mutex
}

func newTxScope(tx store.Tx) *txScope {
	return &txScope{tx: tx}
}

func (ts *txScope) MarkError() {
	ts.mu.Lock()
	ts.hasError = true
	ts.mu.Unlock()
}

// Finalize commits or rolls back based on the error state. Later calls are
// no-ops and report committed as false.
func (ts *txScope) Finalize() (committed bool, err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.finalized {
		return false, nil
	}
	ts.finalized = true

	if ts.hasError {
		return false, ts.tx.Rollback()
	}
	if err := ts.tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
