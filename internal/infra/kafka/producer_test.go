package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/infra/config"
)

func newTestProducer(t *testing.T, sp sarama.SyncProducer) *Producer {
	t.Helper()
	return NewProducerWith(sp, config.KafkaSettings{
		TopicPrefix: "iam",
		MailTopic:   "notification.email",
	}, zaptest.NewLogger(t))
}

func TestTopicName(t *testing.T) {
	p := &Producer{cfg: config.KafkaSettings{TopicPrefix: "iam"}}
	if got := p.TopicName("notification.email"); got != "iam.notification.email" {
		t.Fatalf("unexpected topic %q", got)
	}
	if got := p.TopicName("iam.security.login.succeeded"); got != "iam.security.login.succeeded" {
		t.Fatalf("prefix should not be doubled, got %q", got)
	}

	bare := &Producer{}
	if got := bare.TopicName("notification.email"); got != "notification.email" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	if _, err := NewProducer(config.KafkaSettings{}, zaptest.NewLogger(t)); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("expected ErrNoBrokers, got %v", err)
	}
}

func TestMailPublisherSendsEnvelope(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	defer sp.Close()

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env mailEnvelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.To != "a@x.com" || env.Template != "two_factor_code" {
			return errors.New("unexpected envelope fields")
		}
		if env.MessageID == "" || env.Service != "department-iam" {
			return errors.New("missing message id or service")
		}
		return nil
	})

	producer := newTestProducer(t, sp)
	mailer := NewMailPublisher(producer, config.KafkaSettings{MailTopic: "notification.email"},
		config.AppSettings{Name: "department-iam"}, zaptest.NewLogger(t))
	mailer.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	if mailer.topic != "iam.notification.email" {
		t.Fatalf("unexpected topic %q", mailer.topic)
	}

	err := mailer.Send(context.Background(), domain.MailMessage{
		To:       "a@x.com",
		Subject:  "Your code",
		HTMLBody: "<p>123456</p>",
		Template: "two_factor_code",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
}

func TestMailPublisherPropagatesDeliveryFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	defer sp.Close()

	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	mailer := NewMailPublisher(newTestProducer(t, sp), config.KafkaSettings{MailTopic: "notification.email"},
		config.AppSettings{Name: "department-iam"}, zaptest.NewLogger(t))

	err := mailer.Send(context.Background(), domain.MailMessage{To: "a@x.com"})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected broker error, got %v", err)
	}
}

func TestEventPublisherIncludesTraceMetadata(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	defer sp.Close()

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env eventEnvelope
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.EventType != string(domain.SecurityEventSessionRevoked) || env.UserID != "user-1" {
			return errors.New("unexpected event identity")
		}
		if env.Metadata["trace_id"] != traceID.String() {
			return errors.New("trace id missing from metadata")
		}
		if env.Payload["revoked"] != "true" {
			return errors.New("payload not carried")
		}
		return nil
	})

	publisher := NewEventPublisher(newTestProducer(t, sp), config.AppSettings{Name: "department-iam", Env: "test"}, zaptest.NewLogger(t))
	err := publisher.PublishSecurityEvent(ctx, domain.SecurityEvent{
		Type:       domain.SecurityEventSessionRevoked,
		UserID:     "user-1",
		OccurredAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Attributes: map[string]string{"revoked": "true"},
	})
	if err != nil {
		t.Fatalf("PublishSecurityEvent returned error: %v", err)
	}
}

func TestHeaderCarrierInjectsTraceParent(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	carrier := headerCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)

	headers := carrier.records()
	if len(headers) != 1 || string(headers[0].Key) != "traceparent" {
		t.Fatalf("expected a traceparent header, got %+v", headers)
	}
	if want := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"; string(headers[0].Value) != want {
		t.Fatalf("unexpected traceparent %q", headers[0].Value)
	}
}

func TestSendHonoursCancelledContext(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	defer sp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := newTestProducer(t, sp).Send(ctx, "iam.x", "", []byte("{}")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStubPublisherAndLoggingMailerNeverFail(t *testing.T) {
	if err := NewStubPublisher(zaptest.NewLogger(t)).PublishSecurityEvent(context.Background(), domain.SecurityEvent{
		Type: domain.SecurityEventLoginSucceeded, UserID: "user-1",
	}); err != nil {
		t.Fatalf("stub publisher returned error: %v", err)
	}
	if err := NewLoggingMailer(zaptest.NewLogger(t)).Send(context.Background(), domain.MailMessage{To: "a@x.com"}); err != nil {
		t.Fatalf("logging mailer returned error: %v", err)
	}
}
