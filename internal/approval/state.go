package approval

import "errors"

var ErrInvalidTransition = errors.New("invalid approval state transition")

// State tracks one approval evaluation.
type State uint8

const (
	StateNotStarted State = iota
	StateEvaluating
	StateDirectApprovalNeeded
	StateRouterApprovalNeeded
	StateAlreadySufficient
	StateCompleted
)

var stateNames = [...]string{
	StateNotStarted:           "not_started",
	StateEvaluating:           "evaluating",
	StateDirectApprovalNeeded: "direct_approval_needed",
	StateRouterApprovalNeeded: "router_approval_needed",
	StateAlreadySufficient:    "already_sufficient",
	StateCompleted:            "completed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateAlreadySufficient || s == StateCompleted
}

var transitions = map[State][]State{
	StateNotStarted:           {StateEvaluating},
	StateEvaluating:           {StateDirectApprovalNeeded, StateRouterApprovalNeeded, StateAlreadySufficient},
	StateDirectApprovalNeeded: {StateCompleted},
	StateRouterApprovalNeeded: {StateCompleted},
}

// machine records the path one evaluation takes.
type machine struct {
	state State
	trace []State
}

func newMachine() *machine {
	return &machine{state: StateNotStarted, trace: []State{StateNotStarted}}
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			m.trace = append(m.trace, next)
			return nil
		}
	}
	return ErrInvalidTransition
}
