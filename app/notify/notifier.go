package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lysyi3m/mp-comb/app/database"
	"gopkg.in/gomail.v2"
)

// LogNotifier only logs; used when no mail transport is configured.
type LogNotifier struct{}

func (LogNotifier) CredentialUnhealthy(ctx context.Context, cred database.Credential, status database.CredentialStatus) {
	slog.Warn("Credential needs attention", "credential", cred.ID, "name", cred.Name, "status", string(status))
}

type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

// Mailer delivers alerts in the background, one at a time.
type Mailer struct {
	sender Sender
	from   string
	to     string
	now    func() time.Time

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewMailer(config MailConfig) *Mailer {
	from := config.From
	if from == "" {
		from = config.User
	}
	return &Mailer{
		sender: gomail.NewDialer(config.Host, config.Port, config.User, config.Password),
		from:   from,
		to:     config.To,
		now:    time.Now,
	}
}

func (m *Mailer) CredentialUnhealthy(ctx context.Context, cred database.Credential, status database.CredentialStatus) {
	msg := m.message(cred, status)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.send(msg, cred, status)
	}()
}

// Wait blocks until every queued alert has been sent or has failed.
func (m *Mailer) Wait() {
	m.wg.Wait()
}

func (m *Mailer) send(msg *gomail.Message, cred database.Credential, status database.CredentialStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sender.DialAndSend(msg); err != nil {
		slog.Error("Failed to send credential alert", "credential", cred.ID, "status", string(status), "error", err)
		return
	}
	slog.Info("Credential alert sent", "credential", cred.ID, "status", string(status), "to", m.to)
}

func (m *Mailer) message(cred database.Credential, status database.CredentialStatus) *gomail.Message {
	name := cred.Name
	if name == "" {
		name = cred.ID
	}

	var action string
	switch status {
	case database.CredentialExpired:
		action = "The session was rejected by the platform. Scan a new QR code to log this account in again."
	case database.CredentialBlocked:
		action = "The platform is rate limiting this account. It will be retried automatically after the cooldown."
	default:
		action = "No action required."
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to)
	msg.SetHeader("Subject", fmt.Sprintf("[mp-comb] account %s is %s", name, status))
	msg.SetBody("text/plain", fmt.Sprintf("Account: %s (%s)\nStatus: %s\nTime: %s\n\n%s\n",
		name, cred.ID, status, m.now().Format(time.RFC1123), action))
	return msg
}
