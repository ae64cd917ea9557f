package mq

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/cozy-creator/captioner/internal/config"
	"go.uber.org/zap"
)

type PulsarMQ struct {
	client    pulsar.Client
	producers sync.Map
	consumers sync.Map
	mu        sync.Mutex
	logger    *zap.Logger
}

func NewPulsarMQ(config *config.PulsarConfig, logger *zap.Logger) (*PulsarMQ, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{URL: config.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to create pulsar client: %w", err)
	}

	return &PulsarMQ{
		client: client,
		logger: logger.Named("pulsar"),
	}, nil
}

func (mq *PulsarMQ) Type() string {
	return MQTypePulsar
}

func (mq *PulsarMQ) Publish(ctx context.Context, topic string, message []byte) error {
	producer, err := mq.getProducer(topic)
	if err != nil {
		return err
	}

	_, err = producer.Send(ctx, &pulsar.ProducerMessage{Payload: message})
	return err
}

func (mq *PulsarMQ) Receive(ctx context.Context, topic string) (Message, error) {
	consumer, err := mq.getConsumer(topic)
	if err != nil {
		return nil, err
	}

	return consumer.Receive(ctx)
}

func (mq *PulsarMQ) Ack(topic string, message Message) error {
	consumer, err := mq.getConsumer(topic)
	if err != nil {
		return err
	}

	msg, ok := message.(pulsar.Message)
	if !ok {
		return fmt.Errorf("cannot ack %T on pulsar topic %s", message, topic)
	}

	if err := consumer.Ack(msg); err != nil {
		mq.logger.Error("failed to ack message", zap.String("topic", topic), zap.Error(err))
		return err
	}

	return nil
}

func (mq *PulsarMQ) CloseTopic(topic string) error {
	if producer, ok := mq.producers.LoadAndDelete(topic); ok {
		producer.(pulsar.Producer).Close()
	}

	if consumer, ok := mq.consumers.LoadAndDelete(topic); ok {
		consumer.(pulsar.Consumer).Close()
	}

	return nil
}

func (mq *PulsarMQ) Close() error {
	mq.producers.Range(func(key, _ any) bool {
		mq.CloseTopic(key.(string))
		return true
	})
	mq.consumers.Range(func(key, _ any) bool {
		mq.CloseTopic(key.(string))
		return true
	})

	mq.client.Close()
	return nil
}

func (mq *PulsarMQ) getProducer(topic string) (pulsar.Producer, error) {
	if value, ok := mq.producers.Load(topic); ok {
		return value.(pulsar.Producer), nil
	}

	mq.mu.Lock()
	defer mq.mu.Unlock()
	if value, ok := mq.producers.Load(topic); ok {
		return value.(pulsar.Producer), nil
	}

	producer, err := mq.client.CreateProducer(pulsar.ProducerOptions{Topic: topic})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer for %s: %w", topic, err)
	}

	mq.producers.Store(topic, producer)
	return producer, nil
}

func (mq *PulsarMQ) getConsumer(topic string) (pulsar.Consumer, error) {
	if value, ok := mq.consumers.Load(topic); ok {
		return value.(pulsar.Consumer), nil
	}

	mq.mu.Lock()
	defer mq.mu.Unlock()
	if value, ok := mq.consumers.Load(topic); ok {
		return value.(pulsar.Consumer), nil
	}

	consumer, err := mq.client.Subscribe(pulsar.ConsumerOptions{
		Topic:            topic,
		Type:             pulsar.Exclusive,
		SubscriptionName: subscriptionName(topic),
	})
	if err != nil {
		mq.logger.Error("failed to subscribe", zap.String("topic", topic), zap.Error(err))
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	mq.consumers.Store(topic, consumer)
	return consumer, nil
}

func subscriptionName(topic string) string {
	name := topic
	if i := strings.Index(name, "://"); i >= 0 {
		name = name[i+3:]
	}

	return strings.ReplaceAll(name, "/", "-")
}
