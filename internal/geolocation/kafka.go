package geolocation

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of kafka.Reader the feed consumes.
// This allows for easy mocking in unit tests.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaFeed consumes OwnTracks location messages and pushes them into a Feed
type KafkaFeed struct {
	*Feed
	reader  MessageReader
	backoff time.Duration
}

// NewKafkaReader builds a consumer-group reader for a location topic
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1e6,
		// Only fixes produced after we join matter for a live walk
		StartOffset: kafka.LastOffset,
	})
}

// NewKafkaFeed wraps a reader around a fresh Feed
func NewKafkaFeed(reader MessageReader) *KafkaFeed {
	return &KafkaFeed{
		Feed:    NewFeed(nil),
		reader:  reader,
		backoff: time.Second,
	}
}

// Run reads messages until ctx is cancelled. Non-location and malformed
// messages are skipped.
func (k *KafkaFeed) Run(ctx context.Context) error {
	log.Info().Msg("Starting Kafka location consumer")

	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// kafka-go reports a closed reader as io.EOF
			if errors.Is(err, io.EOF) {
				return nil
			}
			log.Error().Err(err).Msg("Failed to read location message")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(k.backoff):
			}
			continue
		}

		loc, err := DecodeOwnTracks(msg.Value)
		if err != nil {
			if !errors.Is(err, ErrNotLocation) {
				log.Warn().
					Err(err).
					Str("topic", msg.Topic).
					Int("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("Skipping malformed location message")
			}
			continue
		}

		k.Push(loc.Coordinate())
	}
}

// Close stops the reader and drops all watches
func (k *KafkaFeed) Close() error {
	k.Feed.Close()
	return k.reader.Close()
}
