package repofake

import (
	"errors"
	"sync"

	"github.com/jrsteele09/go-auth-client/sessions"
)

var _ sessions.Repo = (*FakeRepo)(nil)

// ErrWriteRejected is returned by Write while FailBatchWrites is set.
var ErrWriteRejected = errors.New("write rejected")

// FakeRepo is an in-memory sessions.Repo that counts removals so tests can
// assert how often a session was destroyed.
type FakeRepo struct {
	values  map[string]string
	removed map[string]int
	writes  int
	lock    sync.RWMutex

	// FailBatchWrites rejects any Write touching more than one key.
	FailBatchWrites bool
}

func NewFakeRepo() *FakeRepo {
	return &FakeRepo{
		values:  make(map[string]string),
		removed: make(map[string]int),
	}
}

func (r *FakeRepo) Get(key string) (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	v, ok := r.values[key]
	if !ok {
		return "", sessions.ErrNotFound
	}
	return v, nil
}

func (r *FakeRepo) Write(set map[string]string, remove []string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.FailBatchWrites && len(set)+len(remove) > 1 {
		return ErrWriteRejected
	}
	r.writes++
	for _, key := range remove {
		if _, ok := r.values[key]; ok {
			r.removed[key]++
		}
		delete(r.values, key)
	}
	for k, v := range set {
		r.values[k] = v
	}
	return nil
}

// Put seeds a raw value, bypassing the Store.
func (r *FakeRepo) Put(key, value string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.values[key] = value
}

// Removed returns how many times key was removed while present.
func (r *FakeRepo) Removed(key string) int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.removed[key]
}

// Keys returns the number of stored keys.
func (r *FakeRepo) Keys() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.values)
}

// Writes returns the number of accepted Write calls.
func (r *FakeRepo) Writes() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.writes
}
