package iscsi

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type fakeFailure struct {
	err       error
	remaining int // -1 fails every call
}

// FakeConfigurator is an in-memory Configurator for tests. It mirrors the
// daemon's cascade semantics (deleting a target drops its LUNs, ACLs and
// portals), records every call in order, and fails on demand.
type FakeConfigurator struct {
	mu sync.Mutex

	Backstores map[string]string   // name → backing path
	Targets    map[string]bool     // iqn → present
	LUNs       map[string][]string // iqn → backstore names
	ACLs       map[string][]string // iqn → initiator IQNs
	CHAPUsers  map[string]string   // iqn → userid
	Portals    map[string][]string // iqn → ip:port
	Sessions   map[string]int      // initiator IQN → logged-in count
	Saves      int

	Calls    []string
	failures map[string]*fakeFailure
}

func NewFakeConfigurator() *FakeConfigurator {
	return &FakeConfigurator{
		Backstores: make(map[string]string),
		Targets:    make(map[string]bool),
		LUNs:       make(map[string][]string),
		ACLs:       make(map[string][]string),
		CHAPUsers:  make(map[string]string),
		Portals:    make(map[string][]string),
		Sessions:   make(map[string]int),
		failures:   make(map[string]*fakeFailure),
	}
}

// FailWith makes every future call to op return err.
func (f *FakeConfigurator) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = &fakeFailure{err: err, remaining: -1}
}

// FailNTimes makes the next n calls to op return err, then succeed.
func (f *FakeConfigurator) FailNTimes(op string, err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = &fakeFailure{err: err, remaining: n}
}

// CallNames returns the operations invoked so far, without arguments.
func (f *FakeConfigurator) CallNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		name := c
		if i := strings.IndexByte(c, ' '); i != -1 {
			name = c[:i]
		}
		names = append(names, name)
	}
	return names
}

// Clean reports whether no target or backstore residue remains.
func (f *FakeConfigurator) Clean() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Targets) == 0 && len(f.Backstores) == 0
}

func (f *FakeConfigurator) record(op string, args ...interface{}) error {
	call := op
	for _, a := range args {
		call += fmt.Sprintf(" %v", a)
	}
	f.Calls = append(f.Calls, call)

	pf := f.failures[op]
	if pf == nil {
		return nil
	}
	if pf.remaining == -1 {
		return pf.err
	}
	if pf.remaining > 0 {
		pf.remaining--
		return pf.err
	}
	return nil
}

func (f *FakeConfigurator) CreateBackstore(_ context.Context, name, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateBackstore", name, path); err != nil {
		return err
	}
	f.Backstores[name] = path
	return nil
}

func (f *FakeConfigurator) DeleteBackstore(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteBackstore", name); err != nil {
		return err
	}
	delete(f.Backstores, name)
	return nil
}

func (f *FakeConfigurator) BackstorePath(_ context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("BackstorePath", name); err != nil {
		return "", false, err
	}
	path, ok := f.Backstores[name]
	return path, ok, nil
}

func (f *FakeConfigurator) CreateTarget(_ context.Context, iqn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateTarget", iqn); err != nil {
		return err
	}
	f.Targets[iqn] = true
	return nil
}

func (f *FakeConfigurator) DeleteTarget(_ context.Context, iqn string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteTarget", iqn); err != nil {
		return err
	}
	delete(f.Targets, iqn)
	delete(f.LUNs, iqn)
	delete(f.ACLs, iqn)
	delete(f.CHAPUsers, iqn)
	delete(f.Portals, iqn)
	return nil
}

func (f *FakeConfigurator) TargetExists(_ context.Context, iqn string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("TargetExists", iqn); err != nil {
		return false, err
	}
	return f.Targets[iqn], nil
}

func (f *FakeConfigurator) CreateLUN(_ context.Context, iqn, backstore string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateLUN", iqn, backstore); err != nil {
		return err
	}
	f.LUNs[iqn] = append(f.LUNs[iqn], backstore)
	return nil
}

func (f *FakeConfigurator) CreateACL(_ context.Context, iqn, initiatorIQN string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateACL", iqn, initiatorIQN); err != nil {
		return err
	}
	f.ACLs[iqn] = append(f.ACLs[iqn], initiatorIQN)
	return nil
}

func (f *FakeConfigurator) SetCHAP(_ context.Context, iqn, initiatorIQN, user, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetCHAP", iqn, initiatorIQN, user); err != nil {
		return err
	}
	f.CHAPUsers[iqn] = user
	return nil
}

func (f *FakeConfigurator) CreatePortal(_ context.Context, iqn, ip string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreatePortal", iqn, ip, port); err != nil {
		return err
	}
	f.Portals[iqn] = append(f.Portals[iqn], fmt.Sprintf("%s:%d", ip, port))
	return nil
}

func (f *FakeConfigurator) TargetState(_ context.Context, iqn, initiatorIQN string) (TargetState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("TargetState", iqn); err != nil {
		return TargetState{}, err
	}
	return TargetState{
		Present:     f.Targets[iqn],
		PortalBound: len(f.Portals[iqn]) > 0,
		Initiators:  f.Sessions[initiatorIQN],
	}, nil
}

func (f *FakeConfigurator) SaveConfig(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SaveConfig"); err != nil {
		return err
	}
	f.Saves++
	return nil
}
