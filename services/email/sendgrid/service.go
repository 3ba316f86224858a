package sendgridmail

import (
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"codesync/pkg/logger"
	"codesync/services/email"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

type service struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
}

var _ email.Service = (*service)(nil)

func NewService(key, appName, fromEmail string) email.Service {
	return &service{
		key:        key,
		from:       sgmail.NewEmail(appName, fromEmail),
		subjPrefix: "[" + appName + "] ",
	}
}

func (svc *service) Send(messages ...email.Message) {
	for _, msg := range messages {
		msg := msg
		go svc.send(msg)
	}
}

func (svc *service) send(msg email.Message) {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Address))

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))

	req := sendgrid.GetRequest(svc.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	resp, err := sendgrid.API(req)
	if err != nil {
		logger.Sugar.Errorf("Failed to send email to %s: %v", msg.To.Address, err)
		return
	}
	if resp.StatusCode >= 400 {
		logger.Sugar.Errorf("Sendgrid rejected email to %s: %d %s", msg.To.Address, resp.StatusCode, resp.Body)
	}
}
