package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/johndauphine/sftp-csv-tap/internal/config"
)

const footer = "tap-sftp"

// Notifier sends notifications to Slack
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// SyncStarted sends notification when a sync starts
func (n *Notifier) SyncStarted(runID, source string, streamCount int) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":rocket:",
		Attachments: []SlackAttachment{
			{
				Color: "#36a64f", // green
				Title: "Sync Started",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Streams", Value: fmt.Sprintf("%d", streamCount), Short: true},
					{Title: "Source", Value: source, Short: false},
				},
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// SyncCompleted sends notification when a sync completes successfully
func (n *Notifier) SyncCompleted(runID string, startTime time.Time, duration time.Duration, streams []StreamSummary) error {
	if !n.IsEnabled() {
		return nil
	}

	var total int64
	var files, skipped int
	lines := make([]string, 0, len(streams))
	for _, s := range streams {
		total += s.Records
		files += s.Files
		skipped += s.Skipped
		lines = append(lines, fmt.Sprintf("%s: %s rows", s.Stream, formatNumberWithCommas(s.Records)))
	}

	headerText := fmt.Sprintf("Sync completed successfully. Emitted %s records from %d files across %d streams.",
		formatNumberWithCommas(total), files, len(streams))

	fields := []SlackField{
		{Title: "Run ID", Value: runID, Short: true},
		{Title: "Started", Value: startTime.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
		{Title: "Duration", Value: formatDuration(duration), Short: true},
		{Title: "Total Records", Value: formatNumberWithCommas(total), Short: true},
	}
	if skipped > 0 {
		fields = append(fields, SlackField{Title: "Skipped Files", Value: fmt.Sprintf("%d", skipped), Short: true})
	}
	if len(lines) > 0 {
		fields = append(fields, SlackField{Title: "Streams", Value: strings.Join(lines, "\n"), Short: false})
	}

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":white_check_mark:",
		Text:      headerText,
		Attachments: []SlackAttachment{
			{
				Color:     "#36a64f", // green
				Fields:    fields,
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// SyncFailed sends notification when a sync fails
func (n *Notifier) SyncFailed(runID, stream string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
	}

	fields := []SlackField{
		{Title: "Run ID", Value: runID, Short: true},
		{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
	}
	if stream != "" {
		fields = append(fields, SlackField{Title: "Stream", Value: stream, Short: true})
	}
	fields = append(fields, SlackField{Title: "Error", Value: errMsg, Short: false})

	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{
			{
				Color:     "#dc3545", // red
				Title:     "Sync Failed",
				Fields:    fields,
				Footer:    footer,
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return "tap-sftp"
}

func formatNumberWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result []byte
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
