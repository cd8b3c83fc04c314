// Package memory implements the durable store contract in process
// memory. It carries the same optimistic transaction semantics as the
// etcd store and backs the engine tests and single-node runs.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store"
)

type entry struct {
	value   []byte
	version int64
}

// Store is an in-memory store.Store. A zero version means "absent"; a
// transaction records the version of every pinned read and commit
// fails with a transient conflict when any of them moved.
type Store struct {
	mu        sync.RWMutex
	maps      map[string]map[string]entry
	commitSeq int64
	primary   bool
	closed    bool

	cbMu      sync.Mutex
	callbacks []func(primary bool)
}

// New returns an empty store that is already primary.
func New() *Store {
	return &Store{
		maps:    make(map[string]map[string]entry),
		primary: true,
	}
}

// SetPrimary flips the replica role and notifies role-change callbacks.
func (s *Store) SetPrimary(primary bool) {
	s.mu.Lock()
	changed := s.primary != primary
	s.primary = primary
	s.mu.Unlock()
	if !changed {
		return
	}
	s.cbMu.Lock()
	cbs := make([]func(bool), len(s.callbacks))
	copy(cbs, s.callbacks)
	s.cbMu.Unlock()
	for _, cb := range cbs {
		cb(primary)
	}
}

func (s *Store) ReadStatus() store.AccessStatus  { return s.status() }
func (s *Store) WriteStatus() store.AccessStatus { return s.status() }

func (s *Store) status() store.AccessStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.closed:
		return store.AccessNotReady
	case !s.primary:
		return store.AccessNotPrimary
	}
	return store.AccessGranted
}

// OnRoleChange registers fn for SetPrimary transitions.
func (s *Store) OnRoleChange(fn func(primary bool)) {
	s.cbMu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.cbMu.Unlock()
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.NewError(store.ClassTransient, "begin transaction", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.NewError(store.ClassNotPrimary, "store closed", nil)
	}
	if !s.primary {
		return nil, store.NewError(store.ClassNotPrimary, "replica is not primary", nil)
	}
	return &tx{
		s:     s,
		reads: make(map[string]map[string]int64),
		puts:  make(map[string]map[string][]byte),
		dels:  make(map[string]map[string]bool),
	}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type tx struct {
	s    *Store
	done bool

	// reads pins key versions observed under ModeUpdate or CAS; puts
	// and dels buffer the mutations applied at commit.
	reads map[string]map[string]int64
	puts  map[string]map[string][]byte
	dels  map[string]map[string]bool
}

func (t *tx) Map(name string) store.Map { return txMap{t: t, name: name} }

// Commit validates every pinned read against the live map and applies
// the buffered writes atomically.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return store.NewError(store.ClassFatal, "transaction already finished", nil)
	}
	if err := ctx.Err(); err != nil {
		return store.NewError(store.ClassTransient, "commit", err)
	}
	t.done = true

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if !t.s.primary || t.s.closed {
		return store.NewError(store.ClassNotPrimary, "replica lost primacy before commit", nil)
	}
	for name, keys := range t.reads {
		live := t.s.maps[name]
		for key, version := range keys {
			if live[key].version != version {
				return store.NewError(store.ClassTransient, "commit conflict on "+name+"/"+key, nil)
			}
		}
	}

	t.s.commitSeq++
	seq := t.s.commitSeq
	for name, keys := range t.dels {
		for key := range keys {
			delete(t.s.maps[name], key)
		}
	}
	for name, keys := range t.puts {
		live := t.s.maps[name]
		if live == nil {
			live = make(map[string]entry)
			t.s.maps[name] = live
		}
		for key, value := range keys {
			live[key] = entry{value: value, version: seq}
		}
	}
	return nil
}

// Discard drops the buffered mutations. Safe after Commit.
func (t *tx) Discard() { t.done = true }

type txMap struct {
	t    *tx
	name string
}

// read resolves key through the write buffer, then the live map.
func (m txMap) read(key string) (value []byte, version int64, ok bool) {
	if m.t.dels[m.name][key] {
		return nil, 0, false
	}
	if v, buffered := m.t.puts[m.name][key]; buffered {
		return v, -1, true
	}
	m.t.s.mu.RLock()
	defer m.t.s.mu.RUnlock()
	e, ok := m.t.s.maps[m.name][key]
	if !ok {
		return nil, 0, false
	}
	return e.value, e.version, true
}

func (m txMap) pin(key string, version int64) {
	if version < 0 {
		// Reads of this transaction's own buffered writes need no pin.
		return
	}
	if m.t.reads[m.name] == nil {
		m.t.reads[m.name] = make(map[string]int64)
	}
	m.t.reads[m.name][key] = version
}

func (m txMap) bufferPut(key string, value []byte) {
	if m.t.puts[m.name] == nil {
		m.t.puts[m.name] = make(map[string][]byte)
	}
	m.t.puts[m.name][key] = value
	delete(m.t.dels[m.name], key)
}

func (m txMap) bufferDel(key string) {
	if m.t.dels[m.name] == nil {
		m.t.dels[m.name] = make(map[string]bool)
	}
	m.t.dels[m.name][key] = true
	delete(m.t.puts[m.name], key)
}

func (m txMap) TryAdd(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, store.NewError(store.ClassTransient, "add", err)
	}
	if _, _, ok := m.read(key); ok {
		return false, nil
	}
	m.pin(key, 0)
	m.bufferPut(key, value)
	return true, nil
}

func (m txMap) AddOrUpdate(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return store.NewError(store.ClassTransient, "put", err)
	}
	m.bufferPut(key, value)
	return nil
}

func (m txMap) TryGet(ctx context.Context, key string, mode store.AccessMode) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, store.NewError(store.ClassTransient, "get", err)
	}
	value, version, ok := m.read(key)
	if !ok {
		if mode == store.ModeUpdate {
			m.pin(key, 0)
		}
		return nil, false, nil
	}
	if mode == store.ModeUpdate {
		m.pin(key, version)
	}
	return value, true, nil
}

func (m txMap) TryUpdate(ctx context.Context, key string, value, witness []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, store.NewError(store.ClassTransient, "update", err)
	}
	current, version, ok := m.read(key)
	if !ok || !bytes.Equal(current, witness) {
		return false, nil
	}
	m.pin(key, version)
	m.bufferPut(key, value)
	return true, nil
}

func (m txMap) TryRemove(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, store.NewError(store.ClassTransient, "remove", err)
	}
	_, version, ok := m.read(key)
	if !ok {
		return false, nil
	}
	m.pin(key, version)
	m.bufferDel(key)
	return true, nil
}

func (m txMap) Ascend(ctx context.Context, prefix string, fn func(kv store.KV) bool) error {
	if err := ctx.Err(); err != nil {
		return store.NewError(store.ClassTransient, "iterate", err)
	}

	merged := make(map[string][]byte)
	m.t.s.mu.RLock()
	for key, e := range m.t.s.maps[m.name] {
		merged[key] = e.value
	}
	m.t.s.mu.RUnlock()
	for key := range m.t.dels[m.name] {
		delete(merged, key)
	}
	for key, value := range m.t.puts[m.name] {
		merged[key] = value
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		if prefix == "" || len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !fn(store.KV{Key: key, Value: merged[key]}) {
			return nil
		}
	}
	return nil
}
