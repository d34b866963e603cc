package state

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"swapcore/core/events"
	"swapcore/core/types"
	"swapcore/native/common"
	"swapcore/storage"
)

var (
	logPrefix  = []byte("log/")
	logHeadKey = []byte("meta/log-head")

	errReadOnly = errors.New("state: write attempted in read-only view")
)

// Manager serialises every mutating settlement operation. Each Update runs
// against a write-buffering transaction; its writes and the events it
// recorded become visible together or not at all.
type Manager struct {
	mu      sync.RWMutex
	db      storage.Database
	emitter events.Emitter
	nowFn   func() int64
	head    uint64
}

// NewManager opens a state manager on top of the supplied database and
// recovers the audit log head.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	m := &Manager{
		db:      db,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	raw, err := db.Get(logHeadKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("state: load log head: %w", err)
	default:
		if len(raw) != 8 {
			return nil, fmt.Errorf("state: corrupt log head")
		}
		m.head = binary.BigEndian.Uint64(raw)
	}
	return m, nil
}

// SetEmitter configures the sink that receives committed log entries.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

// SetNowFunc overrides the clock used to stamp transactions. Primarily used
// in tests.
func (m *Manager) SetNowFunc(now func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	m.nowFn = now
}

type activeTxKey struct{ m *Manager }

// Update runs fn inside an exclusive transaction. The context handed to fn
// carries the reentrancy mark: invoking Update again with it (or with any
// context derived from it) fails with common.ErrReentrant instead of
// deadlocking. When fn returns an error nothing it wrote is kept.
func (m *Manager) Update(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	inner, err := common.EnterCall(ctx, m)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := newTx(m, m.nowFn(), false)
	inner = context.WithValue(inner, activeTxKey{m}, tx)
	if err := fn(inner, tx); err != nil {
		return err
	}
	entries, err := m.commit(tx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		m.emitter.Emit(events.Committed{Entry: entry})
	}
	return nil
}

// View runs fn against a read-only snapshot. When called from inside an
// Update (with the context that Update supplied) the view observes the
// transaction's uncommitted writes.
func (m *Manager) View(ctx context.Context, fn func(tx *Tx) error) error {
	if ctx != nil {
		if active, ok := ctx.Value(activeTxKey{m}).(*Tx); ok && active != nil {
			return fn(active.readOnlyView())
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(newTx(m, m.nowFn(), true))
}

// Now returns the manager's current clock reading.
func (m *Manager) Now() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nowFn()
}

func (m *Manager) commit(tx *Tx) ([]types.LogEntry, error) {
	if len(tx.order) == 0 && len(tx.events) == 0 {
		return nil, nil
	}
	batch := storage.NewBatch()
	for _, key := range tx.order {
		value := tx.writes[key]
		if value == nil {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), value)
	}
	head := m.head
	entries := make([]types.LogEntry, 0, len(tx.events))
	for _, evt := range tx.events {
		rendered := events.Render(evt)
		if rendered == nil {
			continue
		}
		head++
		entry := types.LogEntry{Sequence: head, Time: tx.now, Event: rendered}
		encoded, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("state: encode log entry: %w", err)
		}
		batch.Put(logKey(head), encoded)
		entries = append(entries, entry)
	}
	if head != m.head {
		var raw [8]byte
		binary.BigEndian.PutUint64(raw[:], head)
		batch.Put(logHeadKey, raw[:])
	}
	if err := m.db.Write(batch); err != nil {
		return nil, fmt.Errorf("state: commit: %w", err)
	}
	m.head = head
	return entries, nil
}

// LastSequence returns the sequence number of the newest committed entry.
func (m *Manager) LastSequence() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.head
}

// Events returns up to limit committed entries starting at sequence from.
func (m *Manager) Events(from uint64, limit int) ([]types.LogEntry, error) {
	if from == 0 {
		from = 1
	}
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.LogEntry, 0)
	var decodeErr error
	err := m.db.Iterate(logPrefix, func(key, value []byte) bool {
		if len(key) != len(logPrefix)+8 {
			return true
		}
		if binary.BigEndian.Uint64(key[len(logPrefix):]) < from {
			return true
		}
		var entry types.LogEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			decodeErr = fmt.Errorf("state: decode log entry: %w", err)
			return false
		}
		out = append(out, entry)
		return len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}

func logKey(seq uint64) []byte {
	buf := make([]byte, len(logPrefix)+8)
	copy(buf, logPrefix)
	binary.BigEndian.PutUint64(buf[len(logPrefix):], seq)
	return buf
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Tx buffers the writes and events of a single Update.
type Tx struct {
	m        *Manager
	now      int64
	readOnly bool
	writes   map[string][]byte
	order    []string
	events   []events.Event
}

func newTx(m *Manager, now int64, readOnly bool) *Tx {
	return &Tx{m: m, now: now, readOnly: readOnly, writes: make(map[string][]byte)}
}

func (tx *Tx) readOnlyView() *Tx {
	return &Tx{m: tx.m, now: tx.now, readOnly: true, writes: tx.writes, order: tx.order}
}

// Now returns the timestamp shared by every operation inside the
// transaction.
func (tx *Tx) Now() int64 { return tx.now }

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key was present.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	hashed := string(kvKey(key))
	data, buffered := tx.writes[hashed]
	if !buffered {
		raw, err := tx.m.db.Get([]byte(hashed))
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		data = raw
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut RLP-encodes value and buffers it under key.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if tx.readOnly {
		return errReadOnly
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	tx.set(string(kvKey(key)), encoded)
	return nil
}

// KVDelete buffers the removal of key.
func (tx *Tx) KVDelete(key []byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	tx.set(string(kvKey(key)), nil)
	return nil
}

func (tx *Tx) set(key string, value []byte) {
	if _, seen := tx.writes[key]; !seen {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = value
}

// Emit records an event that is appended to the audit log when the
// transaction commits.
func (tx *Tx) Emit(evt events.Event) {
	if tx.readOnly || evt == nil {
		return
	}
	tx.events = append(tx.events, evt)
}

// Store is the transactional view handed to protocol modules. *Tx
// implements it.
type Store interface {
	Now() int64
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	Emit(evt events.Event)
}

var _ Store = (*Tx)(nil)
