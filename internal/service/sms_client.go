package service

import (
	"context"
	"fmt"
	"time"

	"relief-ussd/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier delivers terminal outcomes to the caller out of band.
// Best-effort, fire-and-forget: a delivery failure never rolls back the
// allocation it describes.
type Notifier interface {
	NotifyOutcome(ctx context.Context, n OutcomeNotification)
}

// OutcomeNotification carries everything the external gateway needs to
// render and deliver the SMS. The core only knows the phone hash; the
// gateway resolves it to a deliverable number.
type OutcomeNotification struct {
	PhoneHash       string
	ReferenceNumber string
	Outcome         string // MATCHED or EXHAUSTED
	ServiceType     string
	Location        string
	ResourceName    string
}

// SMSClient 短信网关客户端（Africa's Talking 风格 messaging API）
type SMSClient struct {
	httpClient *resty.Client
	username   string
	sender     string
	logger     *zap.Logger
}

func NewSMSClient(cfg config.SMSConfig, logger *zap.Logger) *SMSClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("apiKey", cfg.APIKey).
		SetHeader("Accept", "application/json")

	return &SMSClient{
		httpClient: client,
		username:   cfg.Username,
		sender:     cfg.Sender,
		logger:     logger,
	}
}

var _ Notifier = (*SMSClient)(nil)

// NotifyOutcome 发送终态通知短信
func (c *SMSClient) NotifyOutcome(ctx context.Context, n OutcomeNotification) {
	var message string
	switch n.Outcome {
	case "MATCHED":
		message = fmt.Sprintf(
			"Your emergency request is confirmed. Reference: %s. Provider: %s. Keep this reference for follow-up.",
			n.ReferenceNumber, n.ResourceName,
		)
	default:
		message = fmt.Sprintf(
			"Sorry, no %s is available near %s right now. Your request %s is recorded; please try again later.",
			n.ServiceType, n.Location, n.ReferenceNumber,
		)
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": c.username,
			"to":       n.PhoneHash,
			"from":     c.sender,
			"message":  message,
		}).
		Post("/version1/messaging")
	if err != nil {
		c.logger.Error("failed to send outcome SMS",
			zap.String("reference", n.ReferenceNumber),
			zap.Error(err),
		)
		return
	}
	if resp.IsError() {
		c.logger.Error("SMS gateway rejected outcome notification",
			zap.String("reference", n.ReferenceNumber),
			zap.Int("status", resp.StatusCode()),
		)
		return
	}
	c.logger.Info("outcome SMS sent",
		zap.String("reference", n.ReferenceNumber),
		zap.String("outcome", n.Outcome),
	)
}

// NopNotifier is used when SMS is disabled and in tests.
type NopNotifier struct{}

var _ Notifier = NopNotifier{}

func (NopNotifier) NotifyOutcome(context.Context, OutcomeNotification) {}
