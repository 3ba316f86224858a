// Package consolemail logs emails instead of sending them. Used in dev and
// in tests to observe what would have been sent.
package consolemail

import (
	"sync"

	"codesync/pkg/logger"
	"codesync/services/email"
)

type Service struct {
	mu   sync.Mutex
	sent []email.Message
}

var _ email.Service = (*Service)(nil)

func NewService() *Service {
	return &Service{}
}

func (svc *Service) Send(messages ...email.Message) {
	svc.mu.Lock()
	svc.sent = append(svc.sent, messages...)
	svc.mu.Unlock()
	for _, msg := range messages {
		logger.Sugar.Infof("Email to %s: %s", msg.To.Address, msg.Subject)
	}
}

// Sent returns a copy of every message handed to Send.
func (svc *Service) Sent() []email.Message {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]email.Message, len(svc.sent))
	copy(out, svc.sent)
	return out
}
