// Package email envía el mail de invitación con el link de redención.
package email

import (
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"github.com/mitselek/polyphony-sub002/internal/observability/logger"
	"github.com/mitselek/polyphony-sub002/internal/util"
)

type SMTPSender struct {
	Host               string
	Port               int
	From               string
	User               string
	Pass               string
	TLSMode            string // "auto" | "starttls" | "ssl" | "none"
	InsecureSkipVerify bool

	log *zap.Logger
}

func NewSMTPSender(host string, port int, from, user, pass string) *SMTPSender {
	return &SMTPSender{
		Host:    host,
		Port:    port,
		From:    from,
		User:    user,
		Pass:    pass,
		TLSMode: "auto",
		log:     logger.Named("email"),
	}
}

// SendInvite manda el link de redención. multipart/alternative (txt + html).
func (s *SMTPSender) SendInvite(to, memberName, link string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "You have been invited")

	text := fmt.Sprintf("Hi %s,\n\nYou have been invited to join. Open this link to accept:\n\n%s\n\nThe link expires in 48 hours.\n", memberName, link)
	html := fmt.Sprintf(`<p>Hi %s,</p><p>You have been invited to join. <a href="%s">Accept the invitation</a>.</p><p>The link expires in 48 hours.</p>`, memberName, link)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)

	d := mail.NewDialer(s.Host, s.Port, s.User, s.Pass)
	d.TLSConfig = &tls.Config{
		ServerName:         s.Host,
		InsecureSkipVerify: s.InsecureSkipVerify, // sólo dev
	}
	switch s.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.InsecureSkipVerify}
	default:
		// "auto"/"starttls": go-mail negocia STARTTLS si corresponde
	}

	if err := d.DialAndSend(m); err != nil {
		s.log.Error("smtp_send_err", zap.String("to", util.MaskEmail(to)), zap.Error(err))
		return fmt.Errorf("smtp send: %w", err)
	}
	s.log.Info("smtp_send_ok", zap.String("to", util.MaskEmail(to)))
	return nil
}
