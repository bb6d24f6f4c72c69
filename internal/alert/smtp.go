package alert

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"
)

// SMTPConfig configures the email notifier.
type SMTPConfig struct {
	Server    string
	Port      int
	User      string
	Password  string
	Recipient string
}

// ErrSMTPNotConfigured is returned when credentials are missing.
var ErrSMTPNotConfigured = errors.New("alert: smtp credentials not set")

// SMTPNotifier emails alerts. Port 465 uses implicit TLS; any other port
// upgrades with STARTTLS.
type SMTPNotifier struct {
	cfg  SMTPConfig
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPNotifier returns an email notifier for cfg.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Recipient == "" {
		cfg.Recipient = cfg.User
	}
	d := &net.Dialer{Timeout: 15 * time.Second}
	return &SMTPNotifier{cfg: cfg, dial: d.DialContext}
}

// Configured reports whether credentials are present.
func (n *SMTPNotifier) Configured() bool {
	return n.cfg.User != "" && n.cfg.Password != ""
}

// Notify sends the alert email.
func (n *SMTPNotifier) Notify(ctx context.Context, a Alert) error {
	if !n.Configured() {
		return ErrSMTPNotConfigured
	}
	msg, err := n.message(a)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(n.cfg.Server, strconv.Itoa(n.cfg.Port))
	conn, err := n.dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("alert: dialing %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsCfg := &tls.Config{ServerName: n.cfg.Server, MinVersion: tls.VersionTLS12}
	if n.cfg.Port == 465 {
		conn = tls.Client(conn, tlsCfg)
	}

	c, err := smtp.NewClient(conn, n.cfg.Server)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("alert: smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if n.cfg.Port != 465 {
		if err := c.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("alert: starttls: %w", err)
		}
	}
	if err := c.Auth(smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Server)); err != nil {
		return fmt.Errorf("alert: smtp auth: %w", err)
	}
	if err := c.Mail(n.cfg.User); err != nil {
		return fmt.Errorf("alert: smtp MAIL: %w", err)
	}
	if err := c.Rcpt(n.cfg.Recipient); err != nil {
		return fmt.Errorf("alert: smtp RCPT: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("alert: smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("alert: writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("alert: finishing message: %w", err)
	}
	return c.Quit()
}

var emailTemplate = template.Must(template.New("alert").Parse(`<html>
  <body style="font-family: Arial, sans-serif; color: #333; line-height: 1.6;">
    <div style="max-width: 600px; margin: 0 auto; border: 1px solid #e0e0e0; border-radius: 8px;">
      <div style="background-color: #d32f2f; color: white; padding: 20px; text-align: center;">
        <h2 style="margin: 0;">Low credit balance</h2>
      </div>
      <div style="padding: 30px;">
        <p>The estimated prepaid credit balance has dropped below the configured threshold.</p>
        <table style="width: 100%; margin: 20px 0; border-collapse: collapse;">
          <tr><td style="padding: 10px; border: 1px solid #ddd;"><strong>Current balance</strong></td>
              <td style="padding: 10px; border: 1px solid #ddd; color: #d32f2f; font-weight: bold;">${{.Balance}}</td></tr>
          <tr><td style="padding: 10px; border: 1px solid #ddd;"><strong>Alert threshold</strong></td>
              <td style="padding: 10px; border: 1px solid #ddd;">${{.Threshold}}</td></tr>
          <tr><td style="padding: 10px; border: 1px solid #ddd;"><strong>Timestamp</strong></td>
              <td style="padding: 10px; border: 1px solid #ddd;">{{.At}}</td></tr>
        </table>
        <p>Recharge the account to avoid interrupting production traffic.</p>
        <p style="text-align: center; margin-top: 30px;">
          <a href="https://platform.openai.com/settings/organization/billing/overview">Open the billing dashboard</a>
        </p>
      </div>
    </div>
  </body>
</html>
`))

func (n *SMTPNotifier) message(a Alert) ([]byte, error) {
	var body bytes.Buffer
	err := emailTemplate.Execute(&body, struct {
		Balance, Threshold, At string
	}{
		Balance:   a.Balance.StringFixed(2),
		Threshold: a.Threshold.StringFixed(2),
		At:        a.At.UTC().Format("2006-01-02 15:04:05 UTC"),
	})
	if err != nil {
		return nil, fmt.Errorf("alert: rendering email: %w", err)
	}

	subject := fmt.Sprintf("ACTION REQUIRED: Credit balance critical ($%s)", a.Balance.StringFixed(2))
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.User)
	fmt.Fprintf(&msg, "To: %s\r\n", n.cfg.Recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", a.At.Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
