package txn

import "sync"

// TxnID is a monotonically assigned transaction id; lower ids are older
// (the wait-die ordering key).
type TxnID uint64

// InvalidTxnID marks "no transaction" (an empty upgrader slot).
const InvalidTxnID TxnID = ^TxnID(0)

// State is a transaction's position in the 2PL state machine.
type State uint8

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "growing"
	case Shrinking:
		return "shrinking"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "?"
	}
}

// ModifyKind tags one undo-log entry.
type ModifyKind uint8

const (
	ModifyInsert ModifyKind = iota
	ModifyDelete
	ModifyUpdate
)

// ModifyRecord is one undo-log entry: enough to reverse a single row
// mutation.
type ModifyRecord struct {
	Kind       ModifyKind
	Table      string
	Key        []byte
	PriorValue []byte // nil for ModifyInsert
}

type tableLockEntry struct {
	table string
	mode  Mode
}

type tupleLockEntry struct {
	table string
	key   []byte
	mode  Mode
}

// Txn is one in-flight (or completed) transaction: its 2PL state, the
// locks it currently holds, and its undo stack.
type Txn struct {
	id    TxnID
	mu    sync.Mutex
	state State

	tableLocks map[string]Mode         // table name -> held mode
	tupleLocks map[string]map[string]Mode // table name -> key -> held mode

	undo []ModifyRecord
}

func newTxn(id TxnID) *Txn {
	return &Txn{
		id:         id,
		state:      Growing,
		tableLocks: make(map[string]Mode),
		tupleLocks: make(map[string]map[string]Mode),
	}
}

// ID returns the transaction's assigned id.
func (t *Txn) ID() TxnID { return t.id }

// State returns the current 2PL state.
func (t *Txn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// checkGrowing enforces strict 2PL: once shrinking (or terminal), no new
// lock may be acquired.
func (t *Txn) checkGrowing() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Growing {
		return ErrInvalidBehavior
	}
	return nil
}

func (t *Txn) recordTableLock(table string, mode Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.tableLocks[table]; ok && !dominates(mode, cur) {
		return // a weaker re-acquire never downgrades the recorded hold
	}
	t.tableLocks[table] = mode
}

func (t *Txn) recordTupleLock(table string, key []byte, mode Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.tupleLocks[table]
	if !ok {
		m = make(map[string]Mode)
		t.tupleLocks[table] = m
	}
	if cur, ok := m[string(key)]; ok && !dominates(mode, cur) {
		return
	}
	m[string(key)] = mode
}

// holdsTableFor reports whether the transaction's currently held table
// lock on table satisfies the multi-granularity prerequisite for
// acquiring a tuple lock in tupleMode.
func (t *Txn) holdsTableFor(table string, tupleMode Mode) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	held, ok := t.tableLocks[table]
	if !ok {
		return false
	}
	switch tupleMode {
	case S:
		return held == IS || held == IX || held == S || held == SIX || held == X
	case X:
		return held == IX || held == SIX || held == X
	default:
		return false
	}
}

func (t *Txn) snapshotTableLocks() []tableLockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]tableLockEntry, 0, len(t.tableLocks))
	for table, mode := range t.tableLocks {
		out = append(out, tableLockEntry{table: table, mode: mode})
	}
	return out
}

func (t *Txn) snapshotTupleLocks() []tupleLockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []tupleLockEntry
	for table, keys := range t.tupleLocks {
		for key, mode := range keys {
			out = append(out, tupleLockEntry{table: table, key: []byte(key), mode: mode})
		}
	}
	return out
}

// PushUndo records a modification before it is applied; every modifying
// executor pushes its undo record first.
func (t *Txn) PushUndo(rec ModifyRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, rec)
}

// popUndo pops records top-down for abort replay.
func (t *Txn) popUndo() (ModifyRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.undo) == 0 {
		return ModifyRecord{}, false
	}
	rec := t.undo[len(t.undo)-1]
	t.undo = t.undo[:len(t.undo)-1]
	return rec, true
}

func (t *Txn) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}
