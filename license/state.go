package license

import "slices"

type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateRenewing  State = "renewing"
	StateSuspended State = "suspended"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateCancelled || s == StateExpired
}

// Transition is one allowed state change.
type Transition struct {
	From State
	To   State
}

var validTransitions = map[Transition]bool{
	{StatePending, StateActive}:      true, // activated by payment or on creation
	{StatePending, StateCancelled}:   true, // checkout abandoned
	{StatePending, StateExpired}:     true, // access end passed before activation
	{StateActive, StateActive}:       true, // renewal without charge
	{StateActive, StateRenewing}:     true, // period ended, charge required
	{StateActive, StateSuspended}:    true, // admin suspend
	{StateActive, StateCancelled}:    true,
	{StateActive, StateExpired}:      true,
	{StateRenewing, StateActive}:     true, // renewal confirmed
	{StateRenewing, StateSuspended}:  true, // charge deadline passed
	{StateRenewing, StateCancelled}:  true,
	{StateRenewing, StateExpired}:    true,
	{StateSuspended, StateActive}:    true, // resume or late payment
	{StateSuspended, StateCancelled}: true,
	{StateSuspended, StateExpired}:   true,
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom returns all valid target states from the given state.
func ValidTransitionsFrom(from State) []State {
	targets := make([]State, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}

	slices.Sort(targets)
	return targets
}
