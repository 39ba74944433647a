package services

import (
	"context"
	"fmt"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
	"loanservicing/config"
	"loanservicing/models"
	"time"
)

// EmailService предоставляет методы для отправки email
type EmailService struct {
	dialer *gomail.Dialer
	from   string
	db     *gorm.DB
	send   func(m *gomail.Message) error
}

// NewEmailService создает новый экземпляр EmailService
func NewEmailService(cfg *config.Config, db *gorm.DB) *EmailService {
	dialer := gomail.NewDialer(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
	)

	s := &EmailService{
		dialer: dialer,
		from:   cfg.SMTP.From,
		db:     db,
	}
	s.send = func(m *gomail.Message) error {
		return s.dialer.DialAndSend(m)
	}
	return s
}

// SendEmail отправляет email
func (s *EmailService) SendEmail(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.send(m); err != nil {
		return fmt.Errorf("ошибка отправки email: %v", err)
	}

	return nil
}

// SendPaymentNotification отправляет уведомление о проведенном событии по платежу
func (s *EmailService) SendPaymentNotification(to string, p PaymentPostedPayload) error {
	subject := "Уведомление о платеже"
	body := fmt.Sprintf(`
		<h2>Уведомление о платеже</h2>
		<p>Платеж: #%d</p>
		<p>Операция: %s</p>
		<p>Сумма: %s</p>
		<p>Остаток к оплате: %s</p>
		<p>Дата: %s</p>
	`, p.PaymentID, p.EventType, formatMinor(p.Amount), formatMinor(p.DueAmount), time.Now().Format("02.01.2006 15:04:05"))

	return s.SendEmail(to, subject, body)
}

// SendStatusNotification отправляет уведомление о смене статуса
func (s *EmailService) SendStatusNotification(to string, p StatusChangedPayload) error {
	if p.Domain == models.DomainLoan && p.StatusNew == models.LoanPaidOff {
		return s.SendLoanPaidOffNotification(to, p.ObjectID)
	}

	subject := "Изменение статуса"
	body := fmt.Sprintf(`
		<h2>Изменение статуса</h2>
		<p>Объект: %s #%d</p>
		<p>Статус: %d -> %d</p>
		<p>Дата: %s</p>
	`, p.Domain, p.ObjectID, p.StatusOld, p.StatusNew, time.Now().Format("02.01.2006 15:04:05"))

	return s.SendEmail(to, subject, body)
}

// SendLoanPaidOffNotification отправляет уведомление о погашении кредита
func (s *EmailService) SendLoanPaidOffNotification(email string, loanID uint) error {
	subject := "Поздравляем! Ваш кредит успешно погашен"
	body := fmt.Sprintf(`
		<h2>Поздравляем!</h2>
		<p>Ваш кредит #%d был успешно погашен.</p>
		<p>Если у вас возникнут вопросы, пожалуйста, свяжитесь с нами.</p>
	`, loanID)

	return s.SendEmail(email, subject, body)
}

// customerEmail ищет адрес клиента
func (s *EmailService) customerEmail(ctx context.Context, customerID uint) (string, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Select("email").First(&user, customerID).Error; err != nil {
		return "", fmt.Errorf("не найден email клиента %d: %v", customerID, err)
	}
	return user.Email, nil
}

// RegisterHandlers подключает уведомления к диспетчеру сообщений
func (s *EmailService) RegisterHandlers(d *AsyncDispatcher) {
	d.Register(MessageStatusChanged, func(ctx context.Context, msg Message) error {
		payload, ok := msg.Payload.(StatusChangedPayload)
		if !ok {
			return fmt.Errorf("неверные данные сообщения %s", msg.Type)
		}
		to, err := s.customerEmail(ctx, payload.CustomerID)
		if err != nil {
			return err
		}
		return s.SendStatusNotification(to, payload)
	})
	d.Register(MessagePaymentPosted, func(ctx context.Context, msg Message) error {
		payload, ok := msg.Payload.(PaymentPostedPayload)
		if !ok {
			return fmt.Errorf("неверные данные сообщения %s", msg.Type)
		}
		to, err := s.customerEmail(ctx, payload.CustomerID)
		if err != nil {
			return err
		}
		return s.SendPaymentNotification(to, payload)
	})
}

// formatMinor форматирует сумму в минимальных единицах как 1234.56
func formatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
