package email

import (
	"fmt"
	"net/smtp"

	"github.com/shopspring/decimal"
)

// Sender sends transactional emails.
type Sender interface {
	SendOrderConfirmation(to, orderID string, total decimal.Decimal, currency string, items []OrderItem) error
}

// Service handles email sending via SMTP
type Service struct {
	host string
	port string
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
		send: smtp.SendMail,
	}
}

// SendOrderConfirmation sends an order confirmation email
func (s *Service) SendOrderConfirmation(to, orderID string, total decimal.Decimal, currency string, items []OrderItem) error {
	subject := fmt.Sprintf("Order confirmed: #%s", shortID(orderID))
	body := BuildOrderConfirmationBody(orderID, total, currency, items)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return s.send(addr, nil, s.from, []string{to}, []byte(msg))
}

func shortID(orderID string) string {
	if len(orderID) > 8 {
		return orderID[:8]
	}
	return orderID
}
