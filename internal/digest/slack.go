package digest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"opssync/internal/domain"
)

// SlackNotifier posts digests to a Slack incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (n SlackNotifier) Notify(ctx context.Context, org domain.Org, text string) error {
	if n.WebhookURL == "" {
		return errors.New("slack webhook url not configured")
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return slack.PostWebhookCustomHTTPContext(ctx, n.WebhookURL, client, &slack.WebhookMessage{
		Text: text,
	})
}
