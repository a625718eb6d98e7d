package kafkax

import (
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// SplitBrokers parses a comma separated broker list, dropping blanks.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// NewWriter returns a key-hashed writer for topic, or nil when brokers is
// empty. Messages sharing a key keep their relative order.
func NewWriter(brokers, topic string) *kafka.Writer {
	list := SplitBrokers(brokers)
	if len(list) == 0 {
		return nil
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(list...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}
