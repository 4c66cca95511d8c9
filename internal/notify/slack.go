// Package notify posts verification results to Slack.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/KimHG1995/db-migration-checker/internal/logging"
	"github.com/KimHG1995/db-migration-checker/internal/report"
	"github.com/KimHG1995/db-migration-checker/internal/secrets"
)

const (
	colorGreen  = "#36a64f"
	colorRed    = "#dc3545"
	colorYellow = "#ffc107"
	colorBlue   = "#439fe0"

	maxErrorLen       = 500
	maxListedFailures = 3
)

// SlackConfig holds Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// Notifier sends verification events to Slack. A disabled notifier
// accepts every call and sends nothing.
type Notifier struct {
	config *SlackConfig
	client *http.Client
}

// SlackMessage is the webhook payload.
type SlackMessage struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	IconEmoji   string       `json:"icon_emoji,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a colored block of fields.
type Attachment struct {
	Color  string  `json:"color"`
	Title  string  `json:"title"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
	Footer string  `json:"footer,omitempty"`
	Ts     int64   `json:"ts,omitempty"`
}

// Field is one title/value pair in an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a notifier. A nil config yields a disabled notifier.
func New(cfg *SlackConfig) *Notifier {
	return &Notifier{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewFromSecrets builds a notifier from the webhook in the secrets file.
// A missing file or empty webhook yields a disabled notifier.
func NewFromSecrets() *Notifier {
	s, err := secrets.Load()
	if err != nil || s.Notifications.Slack.WebhookURL == "" {
		return New(nil)
	}
	return New(&SlackConfig{
		Enabled:    true,
		WebhookURL: s.Notifications.Slack.WebhookURL,
	})
}

// IsEnabled reports whether messages will be sent.
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// VerificationStarted announces a run.
func (n *Notifier) VerificationStarted(runID, source, destination string, tableCount int) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":mag:",
		Attachments: []Attachment{{
			Color: colorBlue,
			Title: "Verification Started",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Tables", Value: fmt.Sprintf("%d", tableCount), Short: true},
				{Title: "Source", Value: source, Short: true},
				{Title: "Destination", Value: destination, Short: true},
			},
			Footer: "mmv",
			Ts:     time.Now().Unix(),
		}},
	})
}

// VerificationPassed reports a run where every table is OK.
func (n *Notifier) VerificationPassed(runID string, startTime time.Time, duration time.Duration, tableCount int, rows int64) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":white_check_mark:",
		Attachments: []Attachment{{
			Color: colorGreen,
			Title: "Verification Passed",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Started", Value: startTime.UTC().Format(time.RFC3339), Short: true},
				{Title: "Duration", Value: formatDuration(duration), Short: true},
				{Title: "Tables", Value: fmt.Sprintf("%d", tableCount), Short: true},
				{Title: "Source Rows", Value: formatNumberWithCommas(rows), Short: true},
			},
			Footer: "mmv",
			Ts:     time.Now().Unix(),
		}},
	})
}

// VerificationMismatched reports a run that finished with tables that
// differ or errored.
func (n *Notifier) VerificationMismatched(runID string, startTime time.Time, duration time.Duration, okCount, failedCount int, rows int64, failedTables []string) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":warning:",
		Attachments: []Attachment{{
			Color: colorYellow,
			Title: "Verification Found Differences",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Started", Value: startTime.UTC().Format(time.RFC3339), Short: true},
				{Title: "Duration", Value: formatDuration(duration), Short: true},
				{Title: "OK", Value: fmt.Sprintf("%d", okCount), Short: true},
				{Title: "Failed", Value: fmt.Sprintf("%d", failedCount), Short: true},
				{Title: "Source Rows", Value: formatNumberWithCommas(rows), Short: true},
				{Title: "Failed Tables", Value: summarizeFailures(failedTables), Short: false},
			},
			Footer: "mmv",
			Ts:     time.Now().Unix(),
		}},
	})
}

// VerificationFailed reports a run that could not complete.
func (n *Notifier) VerificationFailed(runID string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []Attachment{{
			Color: colorRed,
			Title: "Verification Failed",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Duration", Value: formatDuration(duration), Short: true},
				{Title: "Error", Value: errorText(err), Short: false},
			},
			Footer: "mmv",
			Ts:     time.Now().Unix(),
		}},
	})
}

// TableVerificationFailed reports a single table that could not be checked.
func (n *Notifier) TableVerificationFailed(runID, table string, err error) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []Attachment{{
			Color: colorRed,
			Title: "Table Verification Failed",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Table", Value: table, Short: true},
				{Title: "Error", Value: errorText(err), Short: false},
			},
			Footer: "mmv",
			Ts:     time.Now().Unix(),
		}},
	})
}

// Report sends the message matching the run verdict.
func (n *Notifier) Report(r *report.MigrationReport) error {
	if !n.IsEnabled() || r == nil {
		return nil
	}
	var rows int64
	for _, t := range r.Tables {
		if t.Count != nil {
			rows += t.Count.Source
		}
	}
	if r.AllOK() {
		return n.VerificationPassed(r.RunID, r.StartedAt, r.Duration(), r.Summary.TablesChecked, rows)
	}
	return n.VerificationMismatched(r.RunID, r.StartedAt, r.Duration(), r.Summary.OK,
		r.Summary.Mismatched+r.Summary.Errored, rows, r.FailedTables())
}

func (n *Notifier) send(msg SlackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}

	resp, err := n.client.Post(n.config.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sending slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	logging.Debug("Slack notification sent: %s", msg.Attachments[0].Title)
	return nil
}

func (n *Notifier) getUsername() string {
	if n.config != nil && n.config.Username != "" {
		return n.config.Username
	}
	return "mmv"
}

func errorText(err error) string {
	if err == nil {
		return "Unknown error"
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen] + "..."
	}
	return msg
}

func summarizeFailures(tables []string) string {
	if len(tables) <= maxListedFailures {
		return "Failed tables: " + strings.Join(tables, ", ")
	}
	return fmt.Sprintf("Failed tables: %s... and %d more",
		strings.Join(tables[:maxListedFailures], ", "), len(tables)-maxListedFailures)
}

func formatNumberWithCommas(n int64) string {
	if n < 0 {
		return "-" + formatNumberWithCommas(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
