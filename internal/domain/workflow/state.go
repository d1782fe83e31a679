package workflow

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/errors"
)

// ApplicationCode is the persisted two-digit state of a job-search application.
// The tens digit is the phase group, the units digit the phase step.
type ApplicationCode int

const (
	AppVoid ApplicationCode = 0

	AppAwaitingTeacher    ApplicationCode = 11
	AppTeacherApproved    ApplicationCode = 12
	AppReturnedInApply    ApplicationCode = 13
	AppAwaitingCourse     ApplicationCode = 21
	AppCourseApproved     ApplicationCode = 22
	AppReturnedInCourse   ApplicationCode = 23
	AppCourseSkipSentinel ApplicationCode = 24
	AppAwaitingReport     ApplicationCode = 31
	AppReportSubmitted    ApplicationCode = 32
	AppCompleted          ApplicationCode = 33
	AppReportReturned     ApplicationCode = 34
)

// Phase groups
const (
	GroupApplication = 1
	GroupCourse      = 2
	GroupReport      = 3
)

// Phase steps
const (
	StepAwaiting = 1
	StepApproved = 2
	StepReturned = 3
	StepSkip     = 4
)

var validApplicationCodes = map[ApplicationCode]bool{
	AppVoid:               true,
	AppAwaitingTeacher:    true,
	AppTeacherApproved:    true,
	AppReturnedInApply:    true,
	AppAwaitingCourse:     true,
	AppCourseApproved:     true,
	AppReturnedInCourse:   true,
	AppCourseSkipSentinel: true,
	AppAwaitingReport:     true,
	AppReportSubmitted:    true,
	AppCompleted:          true,
	AppReportReturned:     true,
}

var terminalApplicationCodes = map[ApplicationCode]bool{
	AppVoid:           true,
	AppCompleted:      true,
	AppReportReturned: true,
}

// NewApplicationCode builds a code from its phase group and phase step.
func NewApplicationCode(group, step int) (ApplicationCode, error) {
	if group < 0 || group > 9 || step < 0 || step > 9 {
		return 0, errors.Newf("phase group/step out of range: %d/%d", group, step)
	}
	c := ApplicationCode(group*10 + step)
	if !c.IsValid() {
		return 0, errors.Newf("no application state for group %d step %d", group, step)
	}
	return c, nil
}

// ParseApplicationCode parses a persisted two-character code such as "21".
func ParseApplicationCode(s string) (ApplicationCode, error) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, errors.Newf("malformed application state code %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse application state code %q", s)
	}
	c := ApplicationCode(n)
	if !c.IsValid() {
		return 0, errors.Newf("unknown application state code %q", s)
	}
	return c, nil
}

// String returns the zero-padded persisted form.
func (c ApplicationCode) String() string {
	return fmt.Sprintf("%02d", int(c))
}

// PhaseGroup returns the tens digit.
func (c ApplicationCode) PhaseGroup() int {
	return int(c) / 10
}

// PhaseStep returns the units digit.
func (c ApplicationCode) PhaseStep() int {
	return int(c) % 10
}

// IsValid reports whether c is one of the enumerated application codes.
func (c ApplicationCode) IsValid() bool {
	return validApplicationCodes[c]
}

// IsTerminal reports whether no transition leaves c.
func (c ApplicationCode) IsTerminal() bool {
	return terminalApplicationCodes[c]
}

// CertificateCode is the persisted single-digit state of a certificate issuance request.
type CertificateCode int

const (
	CertSubmitted      CertificateCode = 0
	CertApproved       CertificateCode = 1
	CertReturned       CertificateCode = 2
	CertReceived       CertificateCode = 3
	CertIssued         CertificateCode = 4
	CertAwaitingPickup CertificateCode = 5
	CertCompleted      CertificateCode = 6
	maxCertificateCode CertificateCode = CertCompleted
)

// ParseCertificateCode parses a persisted one-character code such as "5".
func ParseCertificateCode(s string) (CertificateCode, error) {
	if len(s) != 1 || s[0] < '0' || s[0] > '9' {
		return 0, errors.Newf("malformed certificate state code %q", s)
	}
	c := CertificateCode(s[0] - '0')
	if !c.IsValid() {
		return 0, errors.Newf("unknown certificate state code %q", s)
	}
	return c, nil
}

// String returns the persisted form.
func (c CertificateCode) String() string {
	return strconv.Itoa(int(c))
}

// IsValid reports whether c is within 0-6.
func (c CertificateCode) IsValid() bool {
	return c >= CertSubmitted && c <= maxCertificateCode
}

// IsTerminal reports whether no transition leaves c.
func (c CertificateCode) IsTerminal() bool {
	return c == CertCompleted
}

// TerminalApplicationCodes returns the persisted forms of the terminal application codes.
func TerminalApplicationCodes() []string {
	return []string{AppVoid.String(), AppCompleted.String(), AppReportReturned.String()}
}

// TerminalCertificateCodes returns the persisted forms of the terminal certificate codes.
func TerminalCertificateCodes() []string {
	return []string{CertCompleted.String()}
}

// UsesScheduledEnd reports whether the sweep measures c from the scheduled end time.
func (c ApplicationCode) UsesScheduledEnd() bool {
	return c == AppAwaitingReport || c == AppReportSubmitted
}
