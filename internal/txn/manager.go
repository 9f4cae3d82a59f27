package txn

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nmarchenko/ridgeline/internal/table"
)

// Manager owns the transaction table (id -> Txn) and drives the 2PL
// envelope: begin assigns an id, commit/abort are the sole places locks
// are released.
type Manager struct {
	lm  *LockManager
	cat *table.Catalog

	mu     sync.RWMutex
	txns   map[TxnID]*Txn
	nextID TxnID
}

// NewManager builds a transaction manager over lm (lock manager) and cat
// (table catalog, consulted to replay undo records on abort).
func NewManager(lm *LockManager, cat *table.Catalog) *Manager {
	return &Manager{lm: lm, cat: cat, txns: make(map[TxnID]*Txn)}
}

// Begin starts a new transaction with a freshly assigned, monotonically
// increasing id.
func (m *Manager) Begin() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	t := newTxn(id)
	m.txns[id] = t
	slog.Debug("txn.Begin", "txn_id", id)
	return t
}

// Get looks up a transaction by id.
func (m *Manager) Get(id TxnID) (*Txn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.txns[id]
	return t, ok
}

// Commit transitions txn to Shrinking then Committed, releasing every
// lock it holds. Locks are released only here and in Abort.
func (m *Manager) Commit(t *Txn) error {
	st := t.State()
	if st == Committed || st == Aborted {
		return fmt.Errorf("%w: txn %d already %s", ErrInvalidBehavior, t.ID(), st)
	}
	t.setState(Shrinking)
	m.lm.ReleaseAll(t)
	t.setState(Committed)
	slog.Debug("txn.Commit", "txn_id", t.ID())
	return nil
}

// Abort replays the undo stack top-down (Insert records are removed,
// Delete records reinserted with their prior value, Update records
// restored), then releases every lock the transaction holds.
func (m *Manager) Abort(t *Txn) error {
	st := t.State()
	if st == Committed || st == Aborted {
		return fmt.Errorf("%w: txn %d already %s", ErrInvalidBehavior, t.ID(), st)
	}
	t.setState(Shrinking)

	for {
		rec, ok := t.popUndo()
		if !ok {
			break
		}
		if err := m.undoOne(rec); err != nil {
			slog.Warn("txn.Abort: undo step failed", "txn_id", t.ID(), "table", rec.Table, "err", err)
		}
	}

	m.lm.ReleaseAll(t)
	t.setState(Aborted)
	slog.Debug("txn.Abort", "txn_id", t.ID())
	return nil
}

func (m *Manager) undoOne(rec ModifyRecord) error {
	tbl, err := m.cat.Open(rec.Table)
	if err != nil {
		return err
	}
	switch rec.Kind {
	case ModifyInsert:
		_, err := tbl.Delete(rec.Key)
		return err
	case ModifyDelete:
		return tbl.RestoreRow(rec.Key, rec.PriorValue)
	case ModifyUpdate:
		return tbl.UpdateRaw(rec.Key, rec.PriorValue)
	default:
		return fmt.Errorf("txn: unknown undo kind %d", rec.Kind)
	}
}
