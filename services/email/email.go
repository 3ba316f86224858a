// Package email is the fire-and-forget notification gateway. Delivery
// failures are logged, never surfaced to the triggering operation.
package email

import "net/mail"

type Message struct {
	To      mail.Address
	Subject string
	Body    string
}

// Service is any service that can send emails. Send queues the messages and
// returns immediately.
type Service interface {
	Send(messages ...Message)
}
