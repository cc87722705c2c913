package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/infra/config"
	"github.com/arklim/department-iam/internal/infra/ids"
	"github.com/arklim/department-iam/internal/infra/logger"
)

const schemaVersion = "1.0"

type mailEnvelope struct {
	MessageID string    `json:"message_id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	HTMLBody  string    `json:"html_body"`
	Template  string    `json:"template,omitempty"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// MailPublisher implements port.Mailer by handing messages to the notification topic.
type MailPublisher struct {
	producer *Producer
	topic    string
	appCfg   config.AppSettings
	logger   *zap.Logger
	now      func() time.Time
}

// NewMailPublisher constructs a Kafka-backed mailer.
func NewMailPublisher(producer *Producer, kafkaCfg config.KafkaSettings, appCfg config.AppSettings, log *zap.Logger) *MailPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailPublisher{
		producer: producer,
		topic:    producer.TopicName(kafkaCfg.MailTopic),
		appCfg:   appCfg,
		logger:   log,
		now:      time.Now,
	}
}

// Send publishes the message and returns once the broker has acknowledged it.
func (m *MailPublisher) Send(ctx context.Context, message domain.MailMessage) error {
	now := m.now().UTC()
	id := message.ID
	if id == "" {
		id = ids.NewAt(now)
	}

	payload, err := json.Marshal(mailEnvelope{
		MessageID: id,
		To:        message.To,
		Subject:   message.Subject,
		HTMLBody:  message.HTMLBody,
		Template:  message.Template,
		Service:   m.appCfg.Name,
		Timestamp: now,
		Version:   schemaVersion,
	})
	if err != nil {
		return fmt.Errorf("marshal mail envelope: %w", err)
	}

	if err := m.producer.Send(ctx, m.topic, message.To, payload); err != nil {
		return err
	}

	m.logger.Info("Mail queued",
		zap.String("message_id", id),
		zap.String("template", message.Template),
		zap.String("to", logger.MaskEmail(message.To)),
	)
	return nil
}

// LoggingMailer writes messages to the log instead of a transport. Used when no brokers are configured.
type LoggingMailer struct {
	logger *zap.Logger
}

// NewLoggingMailer constructs a development mailer.
func NewLoggingMailer(log *zap.Logger) *LoggingMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingMailer{logger: log}
}

// Send logs the message, including its body, at info level.
func (m *LoggingMailer) Send(_ context.Context, message domain.MailMessage) error {
	m.logger.Info("Mail delivered to log",
		zap.String("to", message.To),
		zap.String("subject", message.Subject),
		zap.String("template", message.Template),
		zap.String("body", message.HTMLBody),
	)
	return nil
}
