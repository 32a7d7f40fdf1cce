// Package memory is an in-memory asset database with staged transactions
// and fault injection. It backs tests and dry runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/udkimport/internal/importer/materialize"
)

// ErrTxDone is returned by operations on a finished transaction.
var ErrTxDone = errors.New("transaction already finished")

// Asset is one stored asset.
type Asset struct {
	Path         string
	Kind         materialize.Kind
	Payload      []byte
	Dependencies []string
	Fingerprint  materialize.Fingerprint
	// Revision counts writes to the path.
	Revision int
}

// Store is a concurrency-safe asset namespace.
type Store struct {
	mu        sync.Mutex
	assets    map[string]Asset
	failOn    map[string]string
	commitErr error
	commits   int
	rollbacks int
}

// New returns an empty Store.
func New() *Store {
	return &Store{assets: map[string]Asset{}, failOn: map[string]string{}}
}

// Seed registers pre-existing assets at paths.
func (s *Store) Seed(kind materialize.Kind, paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		s.assets[p] = Asset{Path: p, Kind: kind, Revision: 1}
	}
}

// FailOn makes every write to path report WriteFailed with reason.
func (s *Store) FailOn(path, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[path] = reason
}

// FailCommit makes every Commit return err until called with nil.
func (s *Store) FailCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// Get returns the committed asset at path.
func (s *Store) Get(path string) (Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[path]
	return a, ok
}

// Paths returns every committed path in order.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.assets))
	for p := range s.assets {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len is the number of committed assets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assets)
}

// Stats reports how many transactions committed and rolled back.
func (s *Store) Stats() (commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits, s.rollbacks
}

// Begin opens a staged transaction.
func (s *Store) Begin(ctx context.Context) (materialize.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{store: s, staged: map[string]Asset{}}, nil
}

type tx struct {
	store  *Store
	staged map[string]Asset
	order  []string
	done   bool
}

func (t *tx) Exists(_ context.Context, path string) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	if _, ok := t.staged[path]; ok {
		return true, nil
	}
	_, ok := t.store.Get(path)
	return ok, nil
}

func (t *tx) CreateOrUpdate(ctx context.Context, w materialize.AssetWrite) (materialize.WriteStatus, string, error) {
	if t.done {
		return materialize.WriteFailed, "", ErrTxDone
	}
	t.store.mu.Lock()
	reason, fail := t.store.failOn[w.TargetPath]
	prev, committed := t.store.assets[w.TargetPath]
	t.store.mu.Unlock()
	if fail {
		return materialize.WriteFailed, reason, nil
	}
	if _, staged := t.staged[w.TargetPath]; (staged || committed) && !w.Overwrite {
		return materialize.WriteSkipped, fmt.Sprintf("%s already exists", w.TargetPath), nil
	}
	if _, staged := t.staged[w.TargetPath]; !staged {
		t.order = append(t.order, w.TargetPath)
	}
	t.staged[w.TargetPath] = Asset{
		Path:         w.TargetPath,
		Kind:         w.Kind,
		Payload:      append([]byte(nil), w.Payload...),
		Dependencies: append([]string(nil), w.Dependencies...),
		Fingerprint:  w.Fingerprint,
		Revision:     prev.Revision + 1,
	}
	return materialize.WriteCreated, "", nil
}

func (t *tx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		s.rollbacks++
		return s.commitErr
	}
	for _, p := range t.order {
		a := t.staged[p]
		if prev, ok := s.assets[p]; ok {
			a.Revision = prev.Revision + 1
		}
		s.assets[p] = a
	}
	s.commits++
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	t.store.rollbacks++
	t.store.mu.Unlock()
	return nil
}
