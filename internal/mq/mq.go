package mq

import (
	"context"
	"errors"

	"github.com/cozy-creator/captioner/internal/config"
	"go.uber.org/zap"
)

var (
	ErrTopicNotExists = errors.New("topic does not exist")
	ErrQueueFull      = errors.New("queue is full")
	ErrQueueClosed    = errors.New("queue closed")
	ErrTopicClosed    = errors.New("topic closed")
)

const (
	MQTypeInMemory = "inmemory"
	MQTypePulsar   = "pulsar"
)

// Message is a single delivery. Pulsar messages satisfy it as they are.
type Message interface {
	Payload() []byte
}

type MQ interface {
	Type() string
	Publish(ctx context.Context, topic string, message []byte) error
	Receive(ctx context.Context, topic string) (Message, error)
	Ack(topic string, message Message) error
	CloseTopic(topic string) error
	Close() error
}

// NewMQ connects to pulsar when a broker url is configured and falls back to
// the bounded in-memory queue otherwise.
func NewMQ(cfg *config.Config, logger *zap.Logger) (MQ, error) {
	if cfg.Pulsar != nil && cfg.Pulsar.URL != "" {
		return NewPulsarMQ(cfg.Pulsar, logger)
	}

	size := 0
	if cfg.Queue != nil {
		size = cfg.Queue.Size
	}
	return NewInMemoryMQ(size)
}

// RequestsTopic is the topic accepted jobs are published on.
func RequestsTopic(cfg *config.Config) string {
	if cfg.Pulsar != nil && cfg.Pulsar.URL != "" && cfg.Pulsar.Topic != "" {
		return cfg.Pulsar.Topic
	}

	return config.DefaultRequestsTopic
}
