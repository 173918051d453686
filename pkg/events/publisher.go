package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventTypeRunCompleted tags run completion messages.
const EventTypeRunCompleted = "timetable.run.completed"

const writeTimeout = 5 * time.Second

// Config holds the Kafka connection settings for run events.
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
	Acks    int
}

// RunCompleted is emitted once a run reaches a terminal state.
type RunCompleted struct {
	Type          string    `json:"type"`
	RunID         string    `json:"runId"`
	DatasetID     string    `json:"datasetId"`
	Status        string    `json:"status"`
	Failures      int       `json:"failures"`
	PlacedHours   int       `json:"placedHours"`
	RequiredHours int       `json:"requiredHours"`
	Attempts      int       `json:"attempts"`
	StopReason    string    `json:"stopReason,omitempty"`
	Error         string    `json:"error,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes run events to Kafka. A disabled publisher accepts and drops every event.
type Publisher struct {
	cfg     Config
	writer  messageWriter
	logger  *zap.Logger
	enabled bool
}

// NewPublisher constructs a publisher backed by a kafka-go writer.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("run event publisher disabled")
		return &Publisher{cfg: cfg, logger: logger}, nil
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}
	return newPublisherWithWriter(cfg, writer, logger), nil
}

func newPublisherWithWriter(cfg Config, writer messageWriter, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg:     cfg,
		writer:  writer,
		logger:  logger.With(zap.String("component", "run_publisher"), zap.String("topic", cfg.Topic)),
		enabled: cfg.Enabled && writer != nil,
	}
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool {
	return p != nil && p.enabled
}

// PublishRunCompleted writes the event keyed by dataset so runs of one dataset stay ordered.
func (p *Publisher) PublishRunCompleted(ctx context.Context, evt RunCompleted) error {
	if !p.Enabled() {
		return nil
	}
	evt.Type = EventTypeRunCompleted
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode run event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	msg := kafka.Message{
		Key:   []byte(evt.DatasetID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("run event publish failed", zap.String("run_id", evt.RunID), zap.Error(err))
		return fmt.Errorf("publish run event: %w", err)
	}
	p.logger.Debug("run event published", zap.String("run_id", evt.RunID))
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.writer.Close()
}
