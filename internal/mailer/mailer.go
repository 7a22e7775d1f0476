// Package mailer delivers run artifacts by SMTP.
package mailer

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	"gopkg.in/gomail.v2"

	"surveypulse/internal/config"
	"surveypulse/internal/kpi"
)

// SMTP credential environment variables. Credentials never live in the
// config file.
const (
	EnvSMTPUser = "SURVEY_SMTP_USER"
	EnvSMTPPass = "SURVEY_SMTP_PASS"
)

// Mailer sends the report email with the run's artifacts attached.
type Mailer struct {
	cfg    config.EmailConfig
	logger *slog.Logger
}

// NewMailer creates a mailer from the email configuration.
func NewMailer(cfg config.EmailConfig, logger *slog.Logger) *Mailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{cfg: cfg, logger: logger}
}

// Send delivers the headline KPIs and attachments to the configured
// recipients. Disabled email and dry runs log and return without sending.
func (m *Mailer) Send(headline kpi.Headline, attachments []string, dryRun bool) error {
	if !m.cfg.Enabled {
		m.logger.Info("email disabled in config, skipping send")
		return nil
	}

	attached := existing(attachments)

	// A dry run never dials, so it does not need credentials either.
	if dryRun {
		m.logger.Info("dry run: would send email",
			slog.Any("to", m.cfg.To),
			slog.Int("attachments", len(attached)))
		return nil
	}

	user := os.Getenv(EnvSMTPUser)
	pass := os.Getenv(EnvSMTPPass)
	if user == "" || pass == "" {
		return fmt.Errorf("missing SMTP credentials: set %s and %s", EnvSMTPUser, EnvSMTPPass)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", m.cfg.To...)
	msg.SetHeader("Subject", fmt.Sprintf("%s Total=%d", m.cfg.SubjectPrefix, headline.TotalResponses))
	msg.SetBody("text/plain", body(headline))
	for _, path := range attached {
		msg.Attach(path)
	}

	m.logger.Info("sending email",
		slog.Any("to", m.cfg.To),
		slog.String("host", m.cfg.Host),
		slog.Int("port", m.cfg.Port),
		slog.Int("attachments", len(attached)))

	dialer := gomail.NewDialer(m.cfg.Host, m.cfg.Port, user, pass)
	dialer.SSL = !m.cfg.StartTLS

	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.Info("email sent")
	return nil
}

// existing filters the attachment list down to files that are actually on
// disk; a report type disabled in config simply has no artifact to attach.
func existing(paths []string) []string {
	var found []string
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			found = append(found, path)
		}
	}
	return found
}

func body(h kpi.Headline) string {
	lines := fmt.Sprintf("Weekly Auto-Report\n\nTotal responses: %d\n", h.TotalResponses)
	if h.TotalResponses == 0 {
		return lines
	}

	lines += rateLine("Satisfaction rate", float64(h.SatisfactionRate))
	lines += rateLine("Recommendation rate", float64(h.RecommendationRate))
	lines += fmt.Sprintf("Most used service: %s\n", h.MostUsedService)
	lines += fmt.Sprintf("Top region: %s\n", h.TopRegion)
	return lines
}

func rateLine(label string, rate float64) string {
	if math.IsNaN(rate) {
		return fmt.Sprintf("%s: N/A\n", label)
	}
	return fmt.Sprintf("%s: %.1f%%\n", label, rate*100)
}
