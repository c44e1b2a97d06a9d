package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// slackListed caps the failing tests quoted in a Slack message.
const slackListed = 10

// SlackNotifier posts run summaries to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment holds the counters of a run as fields and the failing
// tests as text.
type SlackAttachment struct {
	Color  string       `json:"color"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts,omitempty"`
}

// SlackField is one short column of an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a Slack notifier. An empty URL disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func slackColor(l Level) string {
	switch l {
	case LevelSuccess:
		return "good"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// slackMessage lays out n. Without run details the message text becomes the
// attachment text.
func slackMessage(n Notification, now time.Time) SlackMessage {
	att := SlackAttachment{
		Color:  slackColor(n.Level),
		Footer: "crucible",
		Ts:     now.Unix(),
	}

	run := n.Run
	if run == nil {
		att.Text = n.Message
		return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
	}

	t := run.Totals
	att.Fields = []SlackField{
		{Title: "Pass", Value: strconv.Itoa(t.Passed), Short: true},
		{Title: "Fail", Value: strconv.Itoa(t.Failed), Short: true},
		{Title: "Skip", Value: strconv.Itoa(t.Skipped), Short: true},
		{Title: "Lost", Value: strconv.Itoa(t.Lost), Short: true},
	}
	if len(run.Failing) > 0 {
		listed := run.Failing
		if len(listed) > slackListed {
			listed = listed[:slackListed]
		}
		att.Text = "```\n" + strings.Join(listed, "\n") + "\n```"
		if more := len(run.Failing) - len(listed); more > 0 {
			att.Text += fmt.Sprintf("\nand %d more", more)
		}
	}
	if run.ID != "" {
		att.Footer = "crucible run " + run.ID
	}

	text := fmt.Sprintf("%s (%d tests in %s)", n.Title, t.Total, run.Elapsed.Round(time.Second))
	return SlackMessage{Text: text, Attachments: []SlackAttachment{att}}
}

// Send posts n to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(slackMessage(n, time.Now()))
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting run summary to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("slack webhook returned %s", resp.Status)
	}
	return nil
}
