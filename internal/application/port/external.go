package port

import "context"

// MailMessage is an outbound email
type MailMessage struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
}

// Mailer sends email through an external relay
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}
