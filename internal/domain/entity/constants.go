package entity

// Kind identifies which business process an instance belongs to.
// The numeric value is the persisted instance_kind.
type Kind int

const (
	KindApplication Kind = 0
	KindCertificate Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindCertificate:
		return "certificate"
	default:
		return "unknown"
	}
}

// IsValid reports whether k is a known kind
func (k Kind) IsValid() bool {
	return k == KindApplication || k == KindCertificate
}

// User roles
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleOffice  = "office"
)

// Resend flag values as persisted
const (
	ResendFlagOff = "0"
	ResendFlagOn  = "1"
)

// History action names for transitions that are not machine actions
const (
	HistoryActionSubmit = "SUBMIT"
	HistoryActionDelete = "DELETE"
	HistoryActionReap   = "REAP"
)
