package pubsub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caffeineduck/capsule/resource"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

const kafkaDialTimeout = 10 * time.Second

// kafkaSettings mirrors the Confluent client properties read from the
// secret store.
type kafkaSettings struct {
	Brokers          []string
	SecurityProtocol string
	Mechanism        string
	Username         string
	Password         string
	GroupID          string
}

func loadKafkaSettings(ctx context.Context, state resource.BasicState) (kafkaSettings, error) {
	servers, err := state.Secret(ctx, "CK_BOOTSTRAP_SERVERS")
	if err != nil {
		return kafkaSettings{}, err
	}
	return kafkaSettings{
		Brokers:          strings.Split(servers, ","),
		SecurityProtocol: strings.ToUpper(state.SecretOr(ctx, "CK_SECURITY_PROTOCOL", "PLAINTEXT")),
		Mechanism:        strings.ToUpper(state.SecretOr(ctx, "CK_SASL_MECHANISMS", "PLAIN")),
		Username:         state.SecretOr(ctx, "CK_SASL_USERNAME", ""),
		Password:         state.SecretOr(ctx, "CK_SASL_PASSWORD", ""),
		GroupID:          state.SecretOr(ctx, "CK_GROUP_ID", "capsule"),
	}, nil
}

func (s kafkaSettings) tls() *tls.Config {
	switch s.SecurityProtocol {
	case "SSL", "SASL_SSL":
		return &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return nil
}

func (s kafkaSettings) sasl() (sasl.Mechanism, error) {
	if !strings.HasPrefix(s.SecurityProtocol, "SASL_") {
		return nil, nil
	}
	switch s.Mechanism {
	case "PLAIN":
		return plain.Mechanism{Username: s.Username, Password: s.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, s.Username, s.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, s.Username, s.Password)
	}
	return nil, fmt.Errorf("unsupported sasl mechanism %q", s.Mechanism)
}

type kafkaBroker struct {
	settings kafkaSettings
	writer   *kafka.Writer
	dialer   *kafka.Dialer
}

func openKafka(ctx context.Context, state resource.BasicState) (Broker, error) {
	settings, err := loadKafkaSettings(ctx, state)
	if err != nil {
		return nil, err
	}
	mech, err := settings.sasl()
	if err != nil {
		return nil, err
	}
	tlsConfig := settings.tls()

	return &kafkaBroker{
		settings: settings,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(settings.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
			Transport: &kafka.Transport{
				SASL: mech,
				TLS:  tlsConfig,
			},
		},
		dialer: &kafka.Dialer{
			Timeout:       kafkaDialTimeout,
			DualStack:     true,
			SASLMechanism: mech,
			TLS:           tlsConfig,
		},
	}, nil
}

func (b *kafkaBroker) Publish(ctx context.Context, topic string, msg []byte) error {
	return b.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: msg})
}

func (b *kafkaBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.settings.Brokers,
		GroupID: b.settings.GroupID,
		Topic:   topic,
		Dialer:  b.dialer,
	})
	return &kafkaSubscription{reader: reader}, nil
}

func (b *kafkaBroker) Close() error {
	return b.writer.Close()
}

type kafkaSubscription struct {
	reader *kafka.Reader
}

func (s *kafkaSubscription) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	m, err := s.reader.ReadMessage(rctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil
		}
		return nil, err
	}
	return m.Value, nil
}

func (s *kafkaSubscription) Close() error {
	return s.reader.Close()
}
