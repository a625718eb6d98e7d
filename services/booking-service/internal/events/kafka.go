package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
)

var ErrQueueFull = errors.New("event queue full")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a topic from a background goroutine so
// request handlers never wait on the broker.
type KafkaSink struct {
	writer       messageWriter
	logger       *slog.Logger
	queue        chan kafka.Message
	writeTimeout time.Duration
}

type KafkaConfig struct {
	Brokers string
	Topic   string
	Buffer  int
}

// NewKafkaSink returns nil when no brokers are configured.
func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) *KafkaSink {
	writer := kafkax.NewWriter(cfg.Brokers, cfg.Topic)
	if writer == nil {
		return nil
	}
	return newKafkaSink(writer, logger, cfg.Buffer)
}

func newKafkaSink(writer messageWriter, logger *slog.Logger, buffer int) *KafkaSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &KafkaSink{
		writer:       writer,
		logger:       logger,
		queue:        make(chan kafka.Message, buffer),
		writeTimeout: 5 * time.Second,
	}
}

func (k *KafkaSink) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(evt.ProviderID),
		Value: payload,
		Headers: kafkax.MessageHeaders(ctx, map[string]string{
			"event_id":   evt.ID,
			"event_type": evt.Type,
		}),
	}
	select {
	case k.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is done, then flushes what is left and closes the writer.
func (k *KafkaSink) Run(ctx context.Context) {
	defer func() {
		if err := k.writer.Close(); err != nil {
			k.logger.Warn("kafka writer close failed", "err", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-k.queue:
					k.write(msg)
				default:
					return
				}
			}
		case msg := <-k.queue:
			k.write(msg)
		}
	}
}

func (k *KafkaSink) write(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), k.writeTimeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.logger.Error("kafka publish failed", "err", err, "key", string(msg.Key))
	}
}
