package workflow

import "github.com/cockroachdb/errors"

// IssuanceTable is the certificate transition table keyed by (code, button, media).
var IssuanceTable = buildIssuanceTable()

var buttonTargets = map[Button]CertificateCode{
	ButtonApprove:  CertApproved,
	ButtonWithdraw: CertReturned,
	ButtonReject:   CertReturned,
	ButtonReceive:  CertReceived,
	ButtonSend:     CertAwaitingPickup,
	ButtonMail:     CertCompleted,
	ButtonFinish:   CertCompleted,
}

func buildIssuanceTable() *Table[CertificateCode, Button, Media] {
	b := NewTableBuilder[CertificateCode, Button, Media](CertificateCode.IsValid)

	for from := CertSubmitted; from <= maxCertificateCode; from++ {
		if from.IsTerminal() {
			continue
		}
		config := b.Configure(from)
		for button := ButtonApprove; button <= ButtonFinish; button++ {
			for _, media := range allMedia {
				to := issuanceTarget(button, media)
				t := Transition[CertificateCode]{To: to, Notify: issuanceNotifyPlan(to)}
				if button == ButtonReceive {
					t.Effects |= EffectAssignHandler
				}
				if to == CertApproved {
					t.Effects |= EffectStampApproval
				}
				config.Permit(button, media, t)
			}
		}
	}

	return b.Build()
}

func issuanceTarget(button Button, media Media) CertificateCode {
	if button == ButtonIssue {
		if media == MediaPaper {
			return CertAwaitingPickup
		}
		return CertIssued
	}
	return buttonTargets[button]
}

func issuanceNotifyPlan(to CertificateCode) NotifyPlan {
	switch to {
	case CertCompleted:
		return nil
	case CertAwaitingPickup:
		return NotifyPlan{NotifyOfficeHandler, NotifyStudent}
	case CertApproved:
		return NotifyPlan{NotifyStudent, NotifyOfficeBroadcast}
	case CertSubmitted:
		return NotifyPlan{NotifyTeacher}
	case CertReturned:
		return NotifyPlan{NotifyStudent}
	default:
		return NotifyPlan{NotifyOfficeHandler}
	}
}

// IssuanceMachine applies buttons to certificate codes through IssuanceTable
type IssuanceMachine struct {
	table *Table[CertificateCode, Button, Media]
}

// NewIssuanceMachine creates an issuance machine
func NewIssuanceMachine() *IssuanceMachine {
	return &IssuanceMachine{table: IssuanceTable}
}

// Apply validates media and button before looking up the transition. Nothing is mutated.
func (m *IssuanceMachine) Apply(from CertificateCode, button Button, mediaLabel string) (Transition[CertificateCode], error) {
	media, err := ParseMedia(mediaLabel)
	if err != nil {
		return Transition[CertificateCode]{}, err
	}
	if !button.IsValid() {
		return Transition[CertificateCode]{}, errors.Mark(errors.Newf("unknown button id %d", int(button)), ErrInvalidAction)
	}
	if !from.IsValid() {
		return Transition[CertificateCode]{}, errors.Mark(errors.Newf("unknown certificate code %d", int(from)), ErrInvalidState)
	}

	t, ok := m.table.Lookup(from, button, media)
	if !ok {
		return Transition[CertificateCode]{}, errors.Mark(
			errors.Newf("button %s is not permitted from certificate code %s", button, from), ErrInvalidAction)
	}
	return t, nil
}
