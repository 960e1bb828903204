package notify

import (
	"context"
	"time"

	domrepo "FinPilot/internal/domain/repository"
	"FinPilot/internal/domain/service"
	pkghttp "FinPilot/pkg/http"
	"FinPilot/pkg/logger"
)

var (
	_ service.NotificationTransport = (*LogTransport)(nil)
	_ service.NotificationTransport = (*KafkaTransport)(nil)
	_ service.NotificationTransport = (*WebhookTransport)(nil)
)

// LogTransport writes notifications to the structured log. Used in development.
type LogTransport struct {
	log *logger.Logger
}

func NewLogTransport(log *logger.Logger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Notify(_ context.Context, title, body string) bool {
	t.log.Info("Notification", logger.String("title", title), logger.String("body", body))
	return true
}

// Payload is the JSON document sent by the kafka and webhook transports.
type Payload struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// KafkaTransport publishes notifications to the notification topic.
type KafkaTransport struct {
	publisher domrepo.Publisher
	log       *logger.Logger
	now       func() time.Time
}

func NewKafkaTransport(publisher domrepo.Publisher, log *logger.Logger) *KafkaTransport {
	return &KafkaTransport{publisher: publisher, log: log, now: time.Now}
}

func (t *KafkaTransport) Notify(ctx context.Context, title, body string) bool {
	p := Payload{Title: title, Body: body, SentAt: t.now().UTC()}
	if err := t.publisher.Publish(ctx, "", p); err != nil {
		t.log.Error("Failed to publish notification", logger.String("title", title), logger.Error(err))
		return false
	}
	return true
}

// WebhookTransport POSTs notifications as JSON to an HTTP endpoint.
type WebhookTransport struct {
	client *pkghttp.Client
	url    string
	log    *logger.Logger
	now    func() time.Time
}

func NewWebhookTransport(client *pkghttp.Client, url string, log *logger.Logger) *WebhookTransport {
	if client == nil {
		client = pkghttp.NewClient(pkghttp.WithTimeout(10 * time.Second))
	}
	return &WebhookTransport{client: client, url: url, log: log, now: time.Now}
}

func (t *WebhookTransport) Notify(ctx context.Context, title, body string) bool {
	err := t.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodPost,
		URL:    t.url,
		Body:   Payload{Title: title, Body: body, SentAt: t.now().UTC()},
	}, nil)
	if err != nil {
		t.log.Error("Webhook notification failed", logger.String("url", t.url), logger.Error(err))
		return false
	}
	return true
}
