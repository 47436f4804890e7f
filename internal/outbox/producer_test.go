package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/flowstate/internal/platform/events"
)

func TestKafkaProducerWritersHashOnPartitionKey(t *testing.T) {
	p := NewKafkaProducer([]string{"localhost:9092"}, WithBatchTimeout(5*time.Millisecond))
	defer p.Close()

	for _, topic := range []string{events.TopicActivity, events.TopicRejects} {
		writer, err := p.writerForTopic(topic)
		require.NoError(t, err)
		require.Equal(t, topic, writer.Topic)
		require.IsType(t, &kafka.Hash{}, writer.Balancer)
		require.Equal(t, 5*time.Millisecond, writer.BatchTimeout)

		again, err := p.writerForTopic(topic)
		require.NoError(t, err)
		require.Same(t, writer, again)
	}

	// Same user:project key always maps to the same partition.
	partitions := []int{0, 1, 2, 3, 4, 5}
	balancer := &kafka.Hash{}
	key := []byte("neo_todak:FlowState")
	first := balancer.Balance(kafka.Message{Key: key}, partitions...)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, balancer.Balance(kafka.Message{Key: key}, partitions...))
	}
}

func TestKafkaProducerRejectsUnknownTopic(t *testing.T) {
	p := NewKafkaProducer([]string{"localhost:9092"})
	defer p.Close()

	err := p.WriteMessages(context.Background(), "activity_service", kafka.Message{Value: []byte("{}")})
	require.True(t, errors.Is(err, ErrUnknownTopic))
	require.Empty(t, p.writers)
}

func TestKafkaProducerCloseReleasesWriters(t *testing.T) {
	p := NewKafkaProducer([]string{"localhost:9092"})
	_, err := p.writerForTopic(events.TopicActivity)
	require.NoError(t, err)
	require.Len(t, p.writers, 1)

	require.NoError(t, p.Close())
	require.Empty(t, p.writers)
}
