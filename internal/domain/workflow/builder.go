package workflow

import "fmt"

// Effect is a side effect carried by a transition besides the code change
type Effect uint8

const (
	// EffectMarkSchoolCheck sets the instance's school-check flag when the caller asked for it
	EffectMarkSchoolCheck Effect = 1 << iota
	// EffectAssignHandler records the acting user as the office handler
	EffectAssignHandler
	// EffectStampApproval records the approval time used by the payment reaper
	EffectStampApproval
)

// Has reports whether e includes f.
func (e Effect) Has(f Effect) bool {
	return e&f != 0
}

// Transition is one entry of a transition table
type Transition[S comparable] struct {
	To      S
	Notify  NotifyPlan
	Effects Effect
}

type tableKey[S, A, C comparable] struct {
	from   S
	action A
	class  C
}

// TableBuilder collects transitions before they are frozen into a Table
type TableBuilder[S, A, C comparable] struct {
	valid          func(S) bool
	configurations map[S]*StateConfiguration[S, A, C]
}

// StateConfiguration configures the transitions leaving one state
type StateConfiguration[S, A, C comparable] struct {
	from        S
	valid       func(S) bool
	transitions map[tableKey[S, A, C]]Transition[S]
}

// NewTableBuilder creates a builder; valid rejects codes outside the enumerated set.
func NewTableBuilder[S, A, C comparable](valid func(S) bool) *TableBuilder[S, A, C] {
	return &TableBuilder[S, A, C]{
		valid:          valid,
		configurations: make(map[S]*StateConfiguration[S, A, C]),
	}
}

// Configure returns the configuration for the given state
func (b *TableBuilder[S, A, C]) Configure(state S) *StateConfiguration[S, A, C] {
	if !b.valid(state) {
		panic(fmt.Sprintf("invalid state: %v", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &StateConfiguration[S, A, C]{
			from:        state,
			valid:       b.valid,
			transitions: make(map[tableKey[S, A, C]]Transition[S]),
		}
		b.configurations[state] = config
	}

	return config
}

// Permit adds a transition for action under class. Permitting the same key twice panics.
func (c *StateConfiguration[S, A, C]) Permit(action A, class C, t Transition[S]) *StateConfiguration[S, A, C] {
	if !c.valid(t.To) {
		panic(fmt.Sprintf("invalid target state: %v", t.To))
	}

	key := tableKey[S, A, C]{from: c.from, action: action, class: class}
	if _, dup := c.transitions[key]; dup {
		panic(fmt.Sprintf("duplicate transition from %v on %v/%v", c.from, action, class))
	}
	c.transitions[key] = t

	return c
}

// Build freezes the configured transitions into an immutable Table
func (b *TableBuilder[S, A, C]) Build() *Table[S, A, C] {
	rows := make(map[tableKey[S, A, C]]Transition[S])
	for _, config := range b.configurations {
		for key, t := range config.transitions {
			t.Notify = append(NotifyPlan(nil), t.Notify...)
			rows[key] = t
		}
	}
	return &Table[S, A, C]{rows: rows}
}
