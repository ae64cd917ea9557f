package mq

import (
	"context"
	"sync"
)

const defaultInMemorySize = 64

type inMemoryMessage []byte

func (m inMemoryMessage) Payload() []byte {
	return m
}

type InMemoryMQ struct {
	maxSize   int
	topics    sync.Map
	closeCh   chan struct{}
	closeOnce sync.Once
}

func NewInMemoryMQ(maxSize int) (*InMemoryMQ, error) {
	if maxSize <= 0 {
		maxSize = defaultInMemorySize
	}

	return &InMemoryMQ{
		maxSize: maxSize,
		closeCh: make(chan struct{}),
	}, nil
}

func (q *InMemoryMQ) Type() string {
	return MQTypeInMemory
}

// Publish never blocks: a full topic is reported as ErrQueueFull.
func (q *InMemoryMQ) Publish(ctx context.Context, topic string, message []byte) error {
	ch := q.topic(topic)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeCh:
		return ErrQueueClosed
	default:
	}

	select {
	case ch <- message:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *InMemoryMQ) Receive(ctx context.Context, topic string) (Message, error) {
	ch := q.topic(topic)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.closeCh:
		return nil, ErrQueueClosed
	case data, ok := <-ch:
		if !ok {
			q.topics.Delete(topic)
			return nil, ErrTopicClosed
		}
		return inMemoryMessage(data), nil
	}
}

// Ack is a no-op, delivery happens once.
func (q *InMemoryMQ) Ack(topic string, message Message) error {
	return nil
}

func (q *InMemoryMQ) CloseTopic(topic string) error {
	value, ok := q.topics.LoadAndDelete(topic)
	if !ok {
		return ErrTopicNotExists
	}

	close(value.(chan []byte))
	return nil
}

func (q *InMemoryMQ) Close() error {
	q.closeOnce.Do(func() { close(q.closeCh) })
	return nil
}

func (q *InMemoryMQ) topic(topic string) chan []byte {
	value, _ := q.topics.LoadOrStore(topic, make(chan []byte, q.maxSize))
	return value.(chan []byte)
}
