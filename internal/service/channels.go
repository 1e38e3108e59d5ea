package service

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"alertflow/internal/model"
	"alertflow/pkg/errors"
	"alertflow/pkg/errors/ecode"
	"alertflow/pkg/kafka"
	"alertflow/pkg/mail"
	"alertflow/pkg/push/apns"
)

// ChannelAdapter 投递通道。地址格式由各通道自行校验
type ChannelAdapter interface {
	Method() model.DeliveryMethod
	ValidateDestination(dest string) error
	Send(ctx context.Context, event *model.TriggerEvent, target *model.DeliveryTarget) error
}

// ---- email ----

type EmailAdapter struct {
	sender   *mail.Sender
	verifier *mail.Verifier
}

func NewEmailAdapter(sender *mail.Sender, verifier *mail.Verifier) *EmailAdapter {
	return &EmailAdapter{sender: sender, verifier: verifier}
}

func (a *EmailAdapter) Method() model.DeliveryMethod { return model.MethodEmail }

func (a *EmailAdapter) ValidateDestination(dest string) error {
	if err := a.verifier.VerifyAddress(dest); err != nil {
		return errors.Wrap(err, ecode.ValidateErr, "invalid email address")
	}
	return nil
}

func (a *EmailAdapter) Send(_ context.Context, event *model.TriggerEvent, target *model.DeliveryTarget) error {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(event.Priority)), event.Name)
	body := fmt.Sprintf(
		"<p>%s 触发提醒：<b>%s</b></p><p>当前价格 %.6g，24h 涨跌 %.2f%%</p><p>触发时间 %s</p>",
		event.Symbol, event.Name,
		event.Snapshot.Price, event.Snapshot.ChangePercent,
		event.TriggeredAt.Format("2006-01-02 15:04:05"),
	)
	return a.sender.Send(target.Destination, subject, body)
}

// ---- sms ----

// E.164 风格号码
var phonePattern = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

// SmsAdapter 短信网关适配器，POST 表单到供应商接口
type SmsAdapter struct {
	gatewayURL string
	apiKey     string
	sender     string
	client     *http.Client
}

func NewSmsAdapter(gatewayURL, apiKey, sender string) *SmsAdapter {
	return &SmsAdapter{
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		sender:     sender,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *SmsAdapter) Method() model.DeliveryMethod { return model.MethodSms }

func (a *SmsAdapter) ValidateDestination(dest string) error {
	if !phonePattern.MatchString(dest) {
		return errors.WithCode(ecode.ValidateErr, "invalid phone number")
	}
	return nil
}

func (a *SmsAdapter) Send(ctx context.Context, event *model.TriggerEvent, target *model.DeliveryTarget) error {
	text := fmt.Sprintf("%s: %s @ %.6g", event.Symbol, event.Name, event.Snapshot.Price)
	form := url.Values{
		"api_key": {a.apiKey},
		"from":    {a.sender},
		"to":      {target.Destination},
		"text":    {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.gatewayURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Wrap(err, ecode.DeliveryErr, "sms gateway unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.WithCode(ecode.DeliveryErr, "sms gateway status %d", resp.StatusCode)
	}
	return nil
}

// ---- push (APNs) ----

type PushAdapter struct {
	apns *apns.Apns
}

func NewPushAdapter(client *apns.Apns) *PushAdapter {
	return &PushAdapter{apns: client}
}

func (a *PushAdapter) Method() model.DeliveryMethod { return model.MethodPush }

func (a *PushAdapter) ValidateDestination(dest string) error {
	// APNs 设备令牌为 64 位以上十六进制串
	if len(dest) < 64 {
		return errors.WithCode(ecode.ValidateErr, "invalid device token")
	}
	for _, r := range dest {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return errors.WithCode(ecode.ValidateErr, "invalid device token")
		}
	}
	return nil
}

func (a *PushAdapter) Send(_ context.Context, event *model.TriggerEvent, target *model.DeliveryTarget) error {
	msg := &apns.PushMessage{
		Title:    event.Name,
		Body:     fmt.Sprintf("%s @ %.6g", event.Symbol, event.Snapshot.Price),
		Sound:    "default",
		Category: "ALERT_TRIGGERED",
		ExtParams: map[string]interface{}{
			"group":   event.RuleID,
			"rule_id": event.RuleID,
			"symbol":  event.Symbol,
		},
	}
	if _, err := a.apns.Push(msg, target.Destination); err != nil {
		return errors.Wrap(err, ecode.DeliveryErr, "apns push failed")
	}
	return nil
}

// ---- in_app ----

// InAppAdapter 写 Kafka 直达主题，由网关扇出到 websocket 客户端
type InAppAdapter struct {
	producer kafka.ProducerService
}

func NewInAppAdapter(producer kafka.ProducerService) *InAppAdapter {
	return &InAppAdapter{producer: producer}
}

func (a *InAppAdapter) Method() model.DeliveryMethod { return model.MethodInApp }

func (a *InAppAdapter) ValidateDestination(dest string) error {
	if strings.TrimSpace(dest) == "" {
		return errors.WithCode(ecode.ValidateErr, "empty user id")
	}
	return nil
}

func (a *InAppAdapter) Send(ctx context.Context, event *model.TriggerEvent, target *model.DeliveryTarget) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// key 按用户分区，保证单用户消息有序
	return a.producer.Produce(ctx, kafka.TopicAlertInApp, target.Destination, payload)
}

// ---- webhook ----

// WebhookAdapter 单次出站 HTTP 调用，重试由 dispatcher 驱动
type WebhookAdapter struct {
	client *http.Client
}

func NewWebhookAdapter(timeout time.Duration) *WebhookAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookAdapter{client: &http.Client{Timeout: timeout}}
}

func (a *WebhookAdapter) Method() model.DeliveryMethod { return model.MethodWebhook }

func (a *WebhookAdapter) ValidateDestination(dest string) error {
	u, err := url.Parse(dest)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.WithCode(ecode.ValidateErr, "invalid webhook url")
	}
	return nil
}

func (a *WebhookAdapter) Send(ctx context.Context, event *model.TriggerEvent, target *model.DeliveryTarget) error {
	cfg := event.Webhook
	if cfg == nil {
		cfg = &model.WebhookConfig{}
	}

	dest := target.Destination
	if cfg.URL != "" {
		dest = cfg.URL
	}
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	// 事件体合并 payload 模板字段，模板优先
	body := map[string]interface{}{
		"id":           event.ID,
		"rule_id":      event.RuleID,
		"user_id":      event.UserID,
		"symbol":       event.Symbol,
		"name":         event.Name,
		"priority":     event.Priority,
		"triggered_at": event.TriggeredAt,
		"snapshot":     event.Snapshot,
	}
	for k, v := range cfg.Payload {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, dest, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Wrap(err, ecode.DeliveryErr, "webhook unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.WithCode(ecode.DeliveryErr, "webhook status %d", resp.StatusCode)
	}
	return nil
}
