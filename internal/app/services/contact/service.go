// Package contact forwards contact form submissions to the site admin.
package contact

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
	"github.com/clothbridge/clothbridge/pkg/logger"
)

const maxMessageLen = 5000

// Invoker calls a hosted function by name.
type Invoker interface {
	Invoke(ctx context.Context, name string, body, out any) error
}

// Email is the body the mail function expects.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// Service sends contact messages.
type Service struct {
	fn       Invoker
	function string
	admin    string
	log      *logger.Logger
}

// New sends through the function named function to admin.
func New(fn Invoker, function, admin string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("contact")
	}
	if function == "" {
		function = "send-email"
	}
	return &Service{fn: fn, function: function, admin: admin, log: log}
}

// Send validates and forwards one message.
func (s *Service) Send(ctx context.Context, name, email, message string) error {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	message = strings.TrimSpace(message)

	switch {
	case name == "":
		return svcerrors.Validation("name", "name is required")
	case email == "":
		return svcerrors.Validation("email", "email is required")
	case message == "":
		return svcerrors.Validation("message", "message is required")
	case len(message) > maxMessageLen:
		return svcerrors.Validation("message", fmt.Sprintf("message must be at most %d characters", maxMessageLen))
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return svcerrors.Validation("email", "email is invalid")
	}
	if strings.ContainsAny(name, "\r\n") {
		return svcerrors.Validation("name", "name must be a single line")
	}

	body := Email{
		To:      s.admin,
		Subject: "New Contact Form Submission from " + name,
		Text:    fmt.Sprintf("Name: %s\nEmail: %s\n\nMessage:\n%s", name, email, message),
		ReplyTo: email,
	}
	if err := s.fn.Invoke(ctx, s.function, body, nil); err != nil {
		s.log.WithError(err).WithField("function", s.function).Warn("contact email failed")
		return svcerrors.Upstream("could not send message", err)
	}
	s.log.WithField("from", email).Info("contact message sent")
	return nil
}
