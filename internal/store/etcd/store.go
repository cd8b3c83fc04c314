// Package etcd implements the durable store contract on an etcd
// cluster. Each transaction buffers its reads and writes locally and
// commits through a single etcd Txn whose compares pin the ModRevision
// of every read taken in update mode; a failed compare surfaces as a
// transient conflict and the engine retries on its next tick. Replica
// primacy comes from an etcd election session.
package etcd

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/logger"
	"github.com/Azure-Samples/service-fabric-watchdog-service/internal/store"
)

const (
	// opTimeout bounds every single etcd call.
	opTimeout = 5 * time.Second

	keyPrefix       = "/watchdog/state/"
	electionPrefix  = "/watchdog/election"
	sessionTTLSecs  = 10
	campaignBackoff = time.Second
)

// Config carries the etcd connection settings.
type Config struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
	// InstanceID identifies this replica in the election.
	InstanceID string
}

// Store is an etcd-backed store.Store.
type Store struct {
	client *clientv3.Client
	log    logger.Logger

	mu      sync.RWMutex
	primary bool
	closed  bool

	cbMu      sync.Mutex
	callbacks []func(primary bool)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New connects to etcd, verifies the connection and starts campaigning
// for primacy.
func New(cfg Config, log logger.Logger) (*Store, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = opTimeout
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd status probe: %w", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Store{
		client: client,
		log:    log,
		cancel: runCancel,
	}
	s.wg.Add(1)
	go s.campaign(runCtx, cfg.InstanceID)
	return s, nil
}

// campaign holds an election session and flips the replica role as
// leadership is gained and lost.
func (s *Store) campaign(ctx context.Context, instanceID string) {
	defer s.wg.Done()
	for ctx.Err() == nil {
		session, err := concurrency.NewSession(s.client, concurrency.WithTTL(sessionTTLSecs), concurrency.WithContext(ctx))
		if err != nil {
			s.log.Warn("election session failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(campaignBackoff):
			}
			continue
		}

		election := concurrency.NewElection(session, electionPrefix)
		if err := election.Campaign(ctx, instanceID); err != nil {
			s.log.Warn("election campaign failed", zap.Error(err))
			session.Close()
			continue
		}

		s.setPrimary(true)
		select {
		case <-session.Done():
			s.log.Warn("election session expired, replica lost primacy")
		case <-ctx.Done():
		}
		s.setPrimary(false)
		session.Close()
	}
}

func (s *Store) setPrimary(primary bool) {
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

// OnRoleChange registers fn for primacy transitions.
func (s *Store) OnRoleChange(fn func(primary bool)) {
	s.cbMu.Lock()
	s.callbacks = append(s.callbacks, fn)
	s.cbMu.Unlock()
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if s.status() != store.AccessGranted {
		return nil, store.NewError(store.ClassNotPrimary, "replica is not primary", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, store.NewError(store.ClassTransient, "begin transaction", err)
	}
	return &tx{
		s:     s,
		reads: make(map[string]int64),
		puts:  make(map[string][]byte),
		dels:  make(map[string]bool),
	}, nil
}

// Close resigns the election and closes the client.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
	return s.client.Close()
}

func fullKey(mapName, key string) string {
	return keyPrefix + mapName + "/" + key
}

type tx struct {
	s *Store

	done  bool
	reads map[string]int64 // full key -> pinned ModRevision, 0 = absent
	puts  map[string][]byte
	dels  map[string]bool
}

func (t *tx) Map(name string) store.Map { return txMap{t: t, name: name} }

// Commit applies the buffer through one guarded Txn.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return store.NewError(store.ClassFatal, "transaction already finished", nil)
	}
	t.done = true
	if t.s.status() != store.AccessGranted {
		return store.NewError(store.ClassNotPrimary, "replica lost primacy before commit", nil)
	}
	if len(t.puts) == 0 && len(t.dels) == 0 {
		return nil
	}

	cmps := make([]clientv3.Cmp, 0, len(t.reads))
	for key, rev := range t.reads {
		cmps = append(cmps, clientv3.Compare(clientv3.ModRevision(key), "=", rev))
	}
	ops := make([]clientv3.Op, 0, len(t.puts)+len(t.dels))
	for key := range t.dels {
		ops = append(ops, clientv3.OpDelete(key))
	}
	for key, value := range t.puts {
		ops = append(ops, clientv3.OpPut(key, string(value)))
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	resp, err := t.s.client.Txn(opCtx).If(cmps...).Then(ops...).Commit()
	if err != nil {
		return store.NewError(store.ClassTransient, "etcd txn commit", err)
	}
	if !resp.Succeeded {
		return store.NewError(store.ClassTransient, "commit conflict", nil)
	}
	return nil
}

func (t *tx) Discard() { t.done = true }

type txMap struct {
	t    *tx
	name string
}

// read resolves key through the write buffer, then etcd. The returned
// revision is -1 for the transaction's own buffered writes.
func (m txMap) read(ctx context.Context, key string) (value []byte, rev int64, ok bool, err error) {
	fk := fullKey(m.name, key)
	if m.t.dels[fk] {
		return nil, -1, false, nil
	}
	if v, buffered := m.t.puts[fk]; buffered {
		return v, -1, true, nil
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	resp, err := m.t.s.client.Get(opCtx, fk)
	if err != nil {
		return nil, 0, false, store.NewError(store.ClassTransient, "etcd get", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, false, nil
	}
	kv := resp.Kvs[0]
	return kv.Value, kv.ModRevision, true, nil
}

func (m txMap) pin(key string, rev int64) {
	if rev < 0 {
		return
	}
	m.t.reads[fullKey(m.name, key)] = rev
}

func (m txMap) bufferPut(key string, value []byte) {
	fk := fullKey(m.name, key)
	m.t.puts[fk] = value
	delete(m.t.dels, fk)
}

func (m txMap) bufferDel(key string) {
	fk := fullKey(m.name, key)
	m.t.dels[fk] = true
	delete(m.t.puts, fk)
}

func (m txMap) TryAdd(ctx context.Context, key string, value []byte) (bool, error) {
	_, rev, ok, err := m.read(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	m.pin(key, rev)
	m.bufferPut(key, value)
	return true, nil
}

func (m txMap) AddOrUpdate(ctx context.Context, key string, value []byte) error {
	m.bufferPut(key, value)
	return nil
}

func (m txMap) TryGet(ctx context.Context, key string, mode store.AccessMode) ([]byte, bool, error) {
	value, rev, ok, err := m.read(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if mode == store.ModeUpdate {
		m.pin(key, rev)
	}
	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

func (m txMap) TryUpdate(ctx context.Context, key string, value, witness []byte) (bool, error) {
	current, rev, ok, err := m.read(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || !bytes.Equal(current, witness) {
		return false, nil
	}
	m.pin(key, rev)
	m.bufferPut(key, value)
	return true, nil
}

func (m txMap) TryRemove(ctx context.Context, key string) (bool, error) {
	_, rev, ok, err := m.read(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	m.pin(key, rev)
	m.bufferDel(key)
	return true, nil
}

func (m txMap) Ascend(ctx context.Context, prefix string, fn func(kv store.KV) bool) error {
	rangePrefix := keyPrefix + m.name + "/"
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	resp, err := m.t.s.client.Get(opCtx, rangePrefix, clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return store.NewError(store.ClassTransient, "etcd range", err)
	}

	merged := make(map[string][]byte, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		merged[string(kv.Key)[len(rangePrefix):]] = kv.Value
	}
	for fk := range m.t.dels {
		if len(fk) > len(rangePrefix) && fk[:len(rangePrefix)] == rangePrefix {
			delete(merged, fk[len(rangePrefix):])
		}
	}
	for fk, value := range m.t.puts {
		if len(fk) > len(rangePrefix) && fk[:len(rangePrefix)] == rangePrefix {
			merged[fk[len(rangePrefix):]] = value
		}
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
