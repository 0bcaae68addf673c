package presenter

import (
	"sync"
	"time"

	"github.com/ashureev/wardline/internal/domain"
)

// Store holds the newest-first message list of the active department.
// Every mutation signals Changes; groups are recomputed from scratch on
// each call to Groups.
type Store struct {
	loc *time.Location

	mu           sync.RWMutex
	departmentID domain.ID
	messages     []*domain.Message

	changes chan struct{}
}

// NewStore creates an empty store that groups in loc (time.Local if nil).
func NewStore(loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{loc: loc, changes: make(chan struct{}, 1)}
}

// Reset switches the store to a new department and drops the old list.
func (s *Store) Reset(departmentID domain.ID) {
	s.mu.Lock()
	s.departmentID = departmentID
	s.messages = nil
	s.mu.Unlock()
	s.changed()
}

// Replace installs a freshly fetched history. It reports false, and leaves
// the store untouched, when the history belongs to a department that is
// no longer active.
func (s *Store) Replace(departmentID domain.ID, messages []*domain.Message) bool {
	s.mu.Lock()
	if departmentID != s.departmentID {
		s.mu.Unlock()
		return false
	}
	s.messages = append([]*domain.Message(nil), messages...)
	s.mu.Unlock()
	s.changed()
	return true
}

// Append adds a newly arrived message. The list is newest first, so the
// message goes to the head. Messages for another department are ignored.
func (s *Store) Append(m *domain.Message) bool {
	if m == nil {
		return false
	}
	s.mu.Lock()
	if s.departmentID == "" || m.ReceiverDepartmentID != s.departmentID {
		s.mu.Unlock()
		return false
	}
	s.messages = append([]*domain.Message{m}, s.messages...)
	s.mu.Unlock()
	s.changed()
	return true
}

// DepartmentID returns the active department.
func (s *Store) DepartmentID() domain.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.departmentID
}

// Snapshot returns a copy of the flat list.
func (s *Store) Snapshot() []*domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*domain.Message(nil), s.messages...)
}

// Groups returns the current list grouped by day.
func (s *Store) Groups() []domain.MessageGroup {
	return GroupIn(s.Snapshot(), s.loc)
}

// Changes fires after mutations. Bursts coalesce into one signal.
func (s *Store) Changes() <-chan struct{} { return s.changes }

func (s *Store) changed() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
