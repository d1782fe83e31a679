package workflow

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// DefaultCourseApprovalCategories are the categories that pass through course-staff approval
var DefaultCourseApprovalCategories = []int{2, 3, 4}

// DefaultKnownCategories is the category range accepted when none is configured
var DefaultKnownCategories = []int{1, 2, 3, 4, 5, 6, 7, 8, 9}

// CategoryPolicy classifies application categories
type CategoryPolicy struct {
	known  map[int]bool
	course map[int]bool
}

// NewCategoryPolicy builds a policy. Every course-approval category must be known.
func NewCategoryPolicy(known, courseApproval []int) (*CategoryPolicy, error) {
	if len(known) == 0 {
		return nil, errors.New("at least one category must be configured")
	}
	p := &CategoryPolicy{
		known:  make(map[int]bool, len(known)),
		course: make(map[int]bool, len(courseApproval)),
	}
	for _, c := range known {
		p.known[c] = true
	}
	for _, c := range courseApproval {
		if !p.known[c] {
			return nil, errors.Newf("course-approval category %d is not a known category", c)
		}
		p.course[c] = true
	}
	return p, nil
}

// DefaultCategoryPolicy returns the policy for categories 1-9 with course approval on 2, 3 and 4.
func DefaultCategoryPolicy() *CategoryPolicy {
	p, err := NewCategoryPolicy(DefaultKnownCategories, DefaultCourseApprovalCategories)
	if err != nil {
		panic(err)
	}
	return p
}

// Classify maps a category to its branch class.
func (p *CategoryPolicy) Classify(category int) (CategoryClass, error) {
	if !p.known[category] {
		return 0, errors.Mark(errors.Newf("category %d is outside every configured branch", category), ErrInvalidCategory)
	}
	if p.course[category] {
		return CategoryCourseApproval, nil
	}
	return CategorySkipCourse, nil
}

// Categories returns the known categories in ascending order
func (p *CategoryPolicy) Categories() []int {
	out := make([]int, 0, len(p.known))
	for c := range p.known {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// ApplicationTable is the application transition table, generated once from the code arithmetic.
var ApplicationTable = buildApplicationTable()

func buildApplicationTable() *Table[ApplicationCode, Action, CategoryClass] {
	b := NewTableBuilder[ApplicationCode, Action, CategoryClass](ApplicationCode.IsValid)

	codes := make([]ApplicationCode, 0, len(validApplicationCodes))
	for c := range validApplicationCodes {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	for _, from := range codes {
		if from.IsTerminal() {
			continue
		}
		config := b.Configure(from)
		for _, action := range applicationActions {
			for _, class := range categoryClasses {
				to, ok := nextApplicationCode(from, action, class)
				if !ok {
					continue
				}
				t := Transition[ApplicationCode]{To: to, Notify: applicationNotifyPlan(to)}
				if from == AppAwaitingTeacher && action == ActionApprove {
					t.Effects |= EffectMarkSchoolCheck
				}
				config.Permit(action, class, t)
			}
		}
	}

	return b.Build()
}

// nextApplicationCode applies the digit arithmetic. It is only called while generating the table.
func nextApplicationCode(from ApplicationCode, action Action, class CategoryClass) (ApplicationCode, bool) {
	var next ApplicationCode
	switch action {
	case ActionApprove:
		next = from + 1
		if next != AppCompleted {
			switch next.PhaseStep() {
			case StepReturned:
				next += 8
			case StepSkip:
				next += 7
			}
		}
		// An instance parked at course approval also leaves for the report phase
		// when its category never needed course staff.
		if class == CategorySkipCourse && (next == AppAwaitingCourse || from == AppAwaitingCourse) {
			next = AppAwaitingReport
		}
	case ActionWithdraw, ActionReject:
		next = ApplicationCode(from.PhaseGroup()*10 + StepReturned)
		// TODO: 33 doubles as Completed; decide whether a report-phase return deserves its own code.
		if next == AppCompleted {
			next = AppReportReturned
		}
	case ActionCourseApprove:
		next = AppAwaitingCourse
	default:
		return 0, false
	}
	return next, next.IsValid()
}

func applicationNotifyPlan(to ApplicationCode) NotifyPlan {
	switch {
	case to.IsTerminal():
		return nil
	case to.PhaseStep() == StepReturned:
		return NotifyPlan{NotifyStudent}
	case to.PhaseGroup() == GroupReport:
		return NotifyPlan{NotifyStudent}
	default:
		return NotifyPlan{NotifyTeacher}
	}
}

// ApplicationMachine applies actions to application codes through ApplicationTable
type ApplicationMachine struct {
	table  *Table[ApplicationCode, Action, CategoryClass]
	policy *CategoryPolicy
}

// NewApplicationMachine creates a machine using the given category policy
func NewApplicationMachine(policy *CategoryPolicy) *ApplicationMachine {
	if policy == nil {
		policy = DefaultCategoryPolicy()
	}
	return &ApplicationMachine{table: ApplicationTable, policy: policy}
}

// Apply returns the transition for action on an instance at from. The school-check
// effect is kept only when schoolCheck is set. Nothing is mutated.
func (m *ApplicationMachine) Apply(from ApplicationCode, action Action, category int, schoolCheck bool) (Transition[ApplicationCode], error) {
	class, err := m.policy.Classify(category)
	if err != nil {
		return Transition[ApplicationCode]{}, err
	}
	if !from.IsValid() {
		return Transition[ApplicationCode]{}, errors.Mark(errors.Newf("unknown application code %d", int(from)), ErrInvalidState)
	}

	t, ok := m.table.Lookup(from, action, class)
	if !ok {
		return Transition[ApplicationCode]{}, errors.Mark(
			errors.Newf("action %s is not permitted from application code %s", action, from), ErrInvalidAction)
	}
	if !schoolCheck {
		t.Effects &^= EffectMarkSchoolCheck
	}
	return t, nil
}

// Policy returns the category policy in use
func (m *ApplicationMachine) Policy() *CategoryPolicy {
	return m.policy
}
