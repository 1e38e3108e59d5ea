package mail

import (
	"errors"
	"fmt"

	emailverifier "github.com/AfterShip/email-verifier"
	gomail "github.com/go-mail/mail"
)

// SMTP发送器，提醒邮件走这里出站

type Sender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSender(host string, port int, username, password, from string) *Sender {
	return &Sender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// Send 发送一封HTML格式的提醒邮件
func (s *Sender) Send(to, subject, htmlBody string) error {
	if to == "" {
		return errors.New("empty mail recipient")
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", to, err)
	}
	return nil
}

type Verifier struct {
	verifier *emailverifier.Verifier
}

func NewVerifier() *Verifier {
	return &Verifier{
		// 投递前只做语法校验，SMTP探测太慢且会被网关限频
		verifier: emailverifier.NewVerifier().DisableSMTPCheck().DisableCatchAllCheck(),
	}
}

// VerifyAddress 校验邮件地址格式
func (v *Verifier) VerifyAddress(email string) error {
	syntax := v.verifier.ParseAddress(email)
	if !syntax.Valid {
		return errors.New("email address syntax is invalid")
	}
	return nil
}
