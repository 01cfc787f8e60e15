package targets

import (
	"sync"

	"github.com/smmrizwan/hemodialysis-sub001/internal/derived"
)

// Store holds the active target set and allows it to be swapped while
// requests are being served.
type Store struct {
	mu  sync.RWMutex
	set *Set
}

func NewStore(s *Set) *Store {
	if s == nil {
		s = Defaults()
	}
	return &Store{set: s}
}

func (st *Store) Current() *Set {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.set
}

func (st *Store) Replace(s *Set) {
	if s == nil {
		return
	}
	st.mu.Lock()
	st.set = s
	st.mu.Unlock()
}

func (st *Store) Evaluate(metric string, v derived.Value) Status {
	return st.Current().Evaluate(metric, v)
}

func (st *Store) Flags(values map[string]derived.Value) map[string]Status {
	return st.Current().Flags(values)
}
