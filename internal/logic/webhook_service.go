package logic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/pccr10001/gsmlink/internal/config"
	"github.com/pccr10001/gsmlink/internal/model"
	"github.com/pccr10001/gsmlink/internal/repository"
	"github.com/pccr10001/gsmlink/pkg/logger"
)

type WebhookService struct {
	repo   *repository.WebhookRepository
	global []model.Webhook // from the configuration, for every modem
	client *http.Client
}

func NewWebhookService(repo *repository.WebhookRepository, cfg config.WebhookConfig) *WebhookService {
	return &WebhookService{
		repo:   repo,
		global: ConfigWebhooks(cfg),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// ConfigWebhooks turns the configured Telegram bot and Slack hook into
// webhooks that apply to every modem.
func ConfigWebhooks(cfg config.WebhookConfig) []model.Webhook {
	var out []model.Webhook
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		out = append(out, model.Webhook{
			ModemID:   "*",
			URL:       "https://api.telegram.org/bot" + cfg.TelegramToken + "/sendMessage",
			Platform:  "telegram",
			ChannelID: cfg.TelegramChatID,
			Enabled:   true,
		})
	}
	if cfg.SlackURL != "" {
		out = append(out, model.Webhook{ModemID: "*", URL: cfg.SlackURL, Platform: "slack", Enabled: true})
	}
	return out
}

// Dispatch posts sms to every enabled webhook of its modem. Deliveries run
// in the background.
func (s *WebhookService) Dispatch(sms *model.SMS) {
	webhooks, err := s.repo.FindByModem(sms.ModemID)
	if err != nil {
		logger.Log.Errorf("Failed to fetch webhooks for modem %s: %v", sms.ModemID, err)
		return
	}

	for _, wh := range append(webhooks, s.global...) {
		go func() {
			if err := s.Send(wh, sms); err != nil {
				logger.Log.Errorf("Failed to send webhook to %s: %v", wh.URL, err)
			} else {
				logger.Log.Infof("Webhook sent to %s", wh.URL)
			}
		}()
	}
}

// Send delivers sms to one webhook.
func (s *WebhookService) Send(wh model.Webhook, sms *model.SMS) error {
	payload, err := Payload(wh, sms)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Payload renders the body posted for sms. The template, when set, formats
// the text; the platform decides the JSON shape.
func Payload(wh model.Webhook, sms *model.SMS) ([]byte, error) {
	content := fmt.Sprintf("[%s] %s: %s", sms.ModemID, sms.Phone, sms.Content)
	if wh.Template != "" {
		tmpl, err := template.New("msg").Parse(wh.Template)
		if err == nil {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, sms); err == nil {
				content = buf.String()
			}
		}
	}

	var body map[string]any
	switch {
	case wh.Platform == "slack" || strings.Contains(wh.URL, "hooks.slack.com"):
		body = map[string]any{"text": content}
	case wh.Platform == "telegram":
		// URL is https://api.telegram.org/bot<token>/sendMessage
		body = map[string]any{
			"text":       content,
			"parse_mode": "Markdown",
		}
		if wh.ChannelID != "" {
			body["chat_id"] = wh.ChannelID
		}
	default:
		body = map[string]any{
			"text": content,
			"sms":  sms,
		}
	}
	return json.Marshal(body)
}
