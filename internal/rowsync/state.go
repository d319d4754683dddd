package rowsync

import (
	"fmt"
	"slices"
)

// State is where a row is in its save lifecycle.
type State int

const (
	// StateNew rows have no server ID and no create in flight.
	StateNew State = iota
	// StateCreating rows have exactly one create in flight.
	StateCreating
	// StateSaved rows match the last server response.
	StateSaved
	// StateEditing rows have an update scheduled on the debounce timer.
	StateEditing
	// StateSaving rows have an update in flight.
	StateSaving
	// StateReverted rows had their last update fail and were rolled back.
	StateReverted
	// StateDeleting rows have a delete in flight.
	StateDeleting
	// StateDeleted rows are gone from the grid.
	StateDeleted
)

var stateNames = [...]string{"new", "creating", "saved", "editing", "saving", "reverted", "deleting", "deleted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// transitions is the complete set of legal moves.
var transitions = map[State][]State{
	StateNew:      {StateCreating, StateDeleted},
	StateCreating: {StateSaved, StateNew},
	StateSaved:    {StateEditing, StateDeleting},
	StateEditing:  {StateEditing, StateSaving, StateReverted, StateDeleting},
	StateSaving:   {StateSaved, StateReverted, StateEditing},
	StateReverted: {StateEditing, StateDeleting},
	StateDeleting: {StateDeleted, StateSaved},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// TransitionError is an illegal state change. It always indicates a bug.
type TransitionError struct {
	Handle string
	From   State
	To     State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("row %s: illegal transition %s -> %s", e.Handle, e.From, e.To)
}
