package ruleset

import (
	"sync/atomic"
	"time"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

// Manager holds the active Set. Readers never block writers.
type Manager struct {
	active atomic.Pointer[Set]
}

func NewManager() *Manager { return &Manager{} }

func (m *Manager) Set(s *Set) {
	if s == nil {
		return
	}
	m.active.Store(s)
}

func (m *Manager) Get() (*Set, bool) {
	s := m.active.Load()
	return s, s != nil
}

func (m *Manager) RulesetVersion() string {
	if s := m.active.Load(); s != nil {
		return s.Meta.Version
	}
	return ""
}

func (m *Manager) RulesetHash() string {
	if s := m.active.Load(); s != nil {
		return s.Meta.SHA256
	}
	return ""
}

func (m *Manager) Source() Source {
	if s := m.active.Load(); s != nil {
		return s.Meta.Source
	}
	return SourceUnknown
}

func (m *Manager) LoadedAt() time.Time {
	if s := m.active.Load(); s != nil {
		return s.Meta.LoadedAt
	}
	return time.Time{}
}

// ReadyErr reports whether a rule set is loaded.
func (m *Manager) ReadyErr() error {
	if _, ok := m.Get(); !ok {
		return xerrors.New("ruleset: no active rule set")
	}
	return nil
}
