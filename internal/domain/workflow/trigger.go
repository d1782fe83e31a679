package workflow

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Action is a user action on a job-search application
type Action string

const (
	ActionApprove       Action = "APPROVE"
	ActionWithdraw      Action = "WITHDRAW"
	ActionReject        Action = "REJECT"
	ActionCourseApprove Action = "COURSE_APPROVE"
)

var applicationActions = []Action{ActionApprove, ActionWithdraw, ActionReject, ActionCourseApprove}

// ParseAction accepts the upper or lower case action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range applicationActions {
		if a == known {
			return a, nil
		}
	}
	return "", errors.Mark(errors.Newf("unknown action %q", s), ErrInvalidAction)
}

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// Button is the numbered button pressed on a certificate issuance request
type Button int

const (
	ButtonApprove  Button = 0
	ButtonWithdraw Button = 1
	ButtonReject   Button = 2
	ButtonReceive  Button = 3
	ButtonIssue    Button = 4
	ButtonSend     Button = 5
	ButtonMail     Button = 6
	ButtonFinish   Button = 7
)

var buttonNames = map[Button]string{
	ButtonApprove:  "APPROVE",
	ButtonWithdraw: "WITHDRAW",
	ButtonReject:   "REJECT",
	ButtonReceive:  "RECEIVE",
	ButtonIssue:    "ISSUE",
	ButtonSend:     "SEND",
	ButtonMail:     "MAIL",
	ButtonFinish:   "FINISH",
}

// IsValid reports whether b is one of the eight issuance buttons.
func (b Button) IsValid() bool {
	_, ok := buttonNames[b]
	return ok
}

// String returns the button name
func (b Button) String() string {
	if name, ok := buttonNames[b]; ok {
		return name
	}
	return "UNKNOWN"
}

// CategoryClass groups application categories by whether course-staff approval applies.
type CategoryClass int

const (
	CategoryCourseApproval CategoryClass = iota + 1
	CategorySkipCourse
)

var categoryClasses = []CategoryClass{CategoryCourseApproval, CategorySkipCourse}

// Media is how an issued certificate reaches the student.
type Media int

const (
	MediaPaper Media = iota + 1
	MediaMail
	MediaElectronic
)

var allMedia = []Media{MediaPaper, MediaMail, MediaElectronic}

var mediaLabels = map[string]Media{
	"原紙":         MediaPaper,
	"paper":      MediaPaper,
	"郵送":         MediaMail,
	"mail":       MediaMail,
	"電子":         MediaElectronic,
	"electronic": MediaElectronic,
}

// ParseMedia maps the configured media label of a request to a Media.
func ParseMedia(label string) (Media, error) {
	m, ok := mediaLabels[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return 0, errors.Mark(errors.Newf("unknown media %q", label), ErrInvalidCategory)
	}
	return m, nil
}
