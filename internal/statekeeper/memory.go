package statekeeper

import (
	"context"
	"strings"
	"sync"
)

// memKeeper is an in-memory Keeper, used by tests and by deployments that
// don't need cross-process persistence.
type memKeeper struct {
	mu   sync.Mutex
	data map[string]map[string]string // namespace -> key -> value
}

// NewMemory returns an in-memory Keeper.
func NewMemory() Keeper {
	return &memKeeper{data: make(map[string]map[string]string)}
}

type memTxn struct {
	k         *memKeeper
	namespace string
	sets      map[string]string
	deletes   map[string]bool
}

func (k *memKeeper) Begin(namespace string) Txn {
	return &memTxn{k: k, namespace: namespace, sets: map[string]string{}, deletes: map[string]bool{}}
}

func (t *memTxn) SetValue(key, value string) {
	delete(t.deletes, key)
	t.sets[key] = value
}

func (t *memTxn) DeleteValue(key string) {
	delete(t.sets, key)
	t.deletes[key] = true
}

func (t *memTxn) Commit(ctx context.Context) error {
	t.k.mu.Lock()
	defer t.k.mu.Unlock()
	ns, ok := t.k.data[t.namespace]
	if !ok {
		ns = make(map[string]string)
		t.k.data[t.namespace] = ns
	}
	for k, v := range t.sets {
		ns[k] = v
	}
	for k := range t.deletes {
		delete(ns, k)
	}
	return nil
}

func (k *memKeeper) GetKeyValues(ctx context.Context, namespace, prefix string) (map[string]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[string]string)
	for key, val := range k.data[namespace] {
		if strings.HasPrefix(key, prefix) {
			out[key] = val
		}
	}
	return out, nil
}

func (k *memKeeper) Clear(ctx context.Context, namespace string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, namespace)
	return nil
}
