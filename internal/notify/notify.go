package notify

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"os"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/assurtech/insurance-backend/pkg/models"
)

// Notifier is what the lifecycle handlers depend on. Every call from a
// lifecycle transition is best-effort: callers log failures and move on,
// they never fail the business operation.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, title, message, kind string) error
	Email(to, subject, body string) error
}

// Service persists in-app notification rows and sends plain SMTP email.
type Service struct {
	db *gorm.DB

	host     string
	port     string
	user     string
	password string
	from     string
}

func NewService(db *gorm.DB) *Service {
	return &Service{
		db:       db,
		host:     os.Getenv("SMTP_HOST"),
		port:     os.Getenv("SMTP_PORT"),
		user:     os.Getenv("SMTP_USER"),
		password: os.Getenv("SMTP_PASS"),
		from:     os.Getenv("EMAIL_FROM"),
	}
}

// Notify stores an in-app notification for the user.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, title, message, kind string) error {
	return s.db.WithContext(ctx).Create(&models.Notification{
		UserID:  userID,
		Title:   title,
		Message: message,
		Type:    kind,
	}).Error
}

// Email sends a plain-text email over SMTP.
func (s *Service) Email(to, subject, body string) error {
	if s.host == "" || s.port == "" || s.user == "" || s.password == "" {
		return fmt.Errorf("SMTP credentials not fully configured")
	}

	auth := smtp.PlainAuth("", s.user, s.password, s.host)
	message := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", to, subject, body))
	addr := fmt.Sprintf("%s:%s", s.host, s.port)

	if err := smtp.SendMail(addr, auth, s.from, []string{to}, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// Best logs a delivery failure and swallows it. All lifecycle call sites go
// through here so the "non-fatal side effect" contract lives in one place.
func Best(what string, err error) {
	if err != nil {
		log.Printf("%s failed (ignored): %v", what, err)
	}
}
