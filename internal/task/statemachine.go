package task

// allowedTransitions is the directed status graph. Completion must pass
// through in_progress: "done" asserts work was actively performed, so
// todo -> done is absent. cancelled is terminal.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusTodo: {
		StatusInProgress: {},
		StatusBlocked:    {},
		StatusCancelled:  {},
	},
	StatusInProgress: {
		StatusBlocked:   {},
		StatusDone:      {},
		StatusCancelled: {},
	},
	StatusBlocked: {
		StatusTodo:       {},
		StatusInProgress: {},
		StatusCancelled:  {},
	},
	StatusDone: {
		StatusInProgress: {}, // reopen; clears completed_at
	},
}

// CanTransition reports whether from -> to is a legal status change.
// A no-op transition (from == to) is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// CheckTransition returns a TransitionError naming the attempted pair when
// the change is illegal.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
