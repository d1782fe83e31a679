package workflow

// NotifyTarget names the party that must hold the live notification after a transition
type NotifyTarget int

const (
	// NotifyNone revokes the instance's notification and issues nothing
	NotifyNone NotifyTarget = iota
	NotifyStudent
	NotifyTeacher
	NotifyOfficeHandler
	// NotifyOfficeBroadcast issues a first notification to every office user without revoking
	NotifyOfficeBroadcast
)

var notifyTargetNames = map[NotifyTarget]string{
	NotifyNone:            "none",
	NotifyStudent:         "student",
	NotifyTeacher:         "teacher",
	NotifyOfficeHandler:   "office_handler",
	NotifyOfficeBroadcast: "office_broadcast",
}

func (n NotifyTarget) String() string {
	if s, ok := notifyTargetNames[n]; ok {
		return s
	}
	return "unknown"
}

// NotifyPlan is the ordered list of ledger steps run after a transition.
// An empty plan means revoke only.
type NotifyPlan []NotifyTarget

// RevokeOnly reports whether the plan issues nothing.
func (p NotifyPlan) RevokeOnly() bool {
	for _, t := range p {
		if t != NotifyNone {
			return false
		}
	}
	return true
}
