package state

import (
	"sync"
)

// RealizationState records whether a realization's results are usable.
// The values are bit flags so that callers can test membership of a set of
// states in a single mask operation, but exactly one flag ever holds for a
// given realization.
type RealizationState int

const (
	Undefined RealizationState = 1 << iota
	Initialized
	HasData
	LoadFailure
	ParentFailure
)

func (s RealizationState) String() string {
	switch s {
	case Undefined:
		return "UNDEFINED"
	case Initialized:
		return "INITIALIZED"
	case HasData:
		return "HAS_DATA"
	case LoadFailure:
		return "LOAD_FAILURE"
	case ParentFailure:
		return "PARENT_FAILURE"
	default:
		return "INVALID"
	}
}

// Mask is a set of realization states, formed by or-ing state flags together.
type Mask int

func MaskOf(states ...RealizationState) Mask {
	var m Mask
	for _, s := range states {
		m |= Mask(s)
	}
	return m
}

func (m Mask) Contains(s RealizationState) bool {
	return m&Mask(s) != 0
}

// legalNext holds, for each state, the set of states it may transition to.
// A realization that has ever produced data or failed may always be
// re-initialized or re-marked as a propagated parent failure, but can never
// revert to Undefined.
var legalNext = map[RealizationState]Mask{
	Undefined:     MaskOf(Initialized, ParentFailure),
	Initialized:   MaskOf(Initialized, HasData, LoadFailure, ParentFailure),
	HasData:       MaskOf(Initialized, HasData, LoadFailure, ParentFailure),
	LoadFailure:   MaskOf(Initialized, HasData, LoadFailure),
	ParentFailure: MaskOf(Initialized, ParentFailure),
}

// IsLegalTransition reports whether a realization may move from state
// current to state next.
func IsLegalTransition(current, next RealizationState) bool {
	return legalNext[current].Contains(next)
}

// Map holds one RealizationState per realization index. It is sized at
// construction and shared between the scheduling loop and external readers;
// all access is guarded internally. Writes that would violate the transition
// table are silently dropped, so callers that need strict enforcement must
// check the state before and after.
type Map struct {
	mu     sync.RWMutex
	states []RealizationState
}

func NewMap(size int) *Map {
	states := make([]RealizationState, size)
	for i := range states {
		states[i] = Undefined
	}
	return &Map{states: states}
}

func (m *Map) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

// Get returns the state of realization i, or Undefined for any index
// outside the map.
func (m *Map) Get(i int) RealizationState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.states) {
		return Undefined
	}
	return m.states[i]
}

// Set moves realization i to next if the transition table allows it.
// Illegal transitions and out-of-range indices leave the map unchanged.
func (m *Map) Set(i int, next RealizationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.states) {
		return
	}
	if !IsLegalTransition(m.states[i], next) {
		return
	}
	m.states[i] = next
}

// UpdateMatching sets realization i to next only if its current state is in
// mask, subject to the same transition rules as Set.
func (m *Map) UpdateMatching(i int, mask Mask, next RealizationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.states) {
		return
	}
	if !mask.Contains(m.states[i]) {
		return
	}
	if !IsLegalTransition(m.states[i], next) {
		return
	}
	m.states[i] = next
}

// SelectMatching returns one entry per realization, true where the current
// state is in mask.
func (m *Map) SelectMatching(mask Mask) []bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	selected := make([]bool, len(m.states))
	for i, s := range m.states {
		selected[i] = mask.Contains(s)
	}
	return selected
}

// Equal reports whether two maps have the same size and identical states at
// every index.
func (m *Map) Equal(other *Map) bool {
	if m == other {
		return true
	}
	if m == nil || other == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	if len(m.states) != len(other.states) {
		return false
	}
	for i, s := range m.states {
		if other.states[i] != s {
			return false
		}
	}
	return true
}
