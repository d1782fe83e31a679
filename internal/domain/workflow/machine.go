package workflow

// Table is a frozen transition table keyed by (from, action, class)
type Table[S, A, C comparable] struct {
	rows map[tableKey[S, A, C]]Transition[S]
}

// Lookup returns the transition for the key, if one was permitted.
func (t *Table[S, A, C]) Lookup(from S, action A, class C) (Transition[S], bool) {
	tr, ok := t.rows[tableKey[S, A, C]{from: from, action: action, class: class}]
	if !ok {
		return Transition[S]{}, false
	}
	tr.Notify = append(NotifyPlan(nil), tr.Notify...)
	return tr, true
}

// Len returns the number of entries
func (t *Table[S, A, C]) Len() int {
	return len(t.rows)
}

// Targets returns every code reachable in one step.
func (t *Table[S, A, C]) Targets() []S {
	seen := make(map[S]bool)
	var out []S
	for _, tr := range t.rows {
		if !seen[tr.To] {
			seen[tr.To] = true
			out = append(out, tr.To)
		}
	}
	return out
}
