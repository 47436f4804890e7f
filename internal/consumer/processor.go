// Package consumer reads raw activity records published by collectors to Kafka
// and feeds them to the activity log.
package consumer

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/flowstate/internal/normalize"
)

// KindHeader may name the raw kind when the payload omits it.
const KindHeader = "raw_kind"

// ErrHandlerExhausted is returned by Run when a message still fails after every retry.
var ErrHandlerExhausted = errors.New("consumer: handler retries exhausted")

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded raw records.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a raw record decoded from a Kafka message.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Key       string
	SchemaID  int
	Record    normalize.RawInputRecord
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetry sets how many times a failing message is handed to the Handler
// and the initial delay between attempts. The delay doubles up to maxRetryDelay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(p *Processor) {
		if attempts > 0 {
			p.attempts = attempts
		}
		if delay > 0 {
			p.retryDelay = delay
		}
	}
}

const maxRetryDelay = 30 * time.Second

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
//
// A message is committed once handled or when it can never be decoded. A
// handler failure is retried in place; nothing after it is fetched meanwhile,
// since committing a later offset would implicitly commit the failed one too.
// When retries run out Run returns ErrHandlerExhausted without committing, so
// the group redelivers the message to the next member that joins.
type Processor struct {
	reader     Reader
	handler    Handler
	logger     *log.Logger
	attempts   int
	retryDelay time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:     reader,
		handler:    handler,
		logger:     log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		attempts:   5,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		decoded, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if err := p.handleWithRetry(ctx, decoded); err != nil {
			return err
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			recordProcessed(decoded)
		}
	}
}

func (p *Processor) handleWithRetry(ctx context.Context, msg Message) error {
	delay := p.retryDelay
	for attempt := 1; ; attempt++ {
		err := p.handler.Handle(ctx, msg)
		if err == nil {
			return nil
		}
		p.logger.Printf("handler error (topic=%s, offset=%d, raw_id=%s, attempt=%d/%d): %v", msg.Topic, msg.Offset, msg.Record.ID, attempt, p.attempts, err)
		recordHandlerError(msg)
		if attempt >= p.attempts {
			return fmt.Errorf("%w (topic=%s, partition=%d, offset=%d): %v", ErrHandlerExhausted, msg.Topic, msg.Partition, msg.Offset, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// decodeMessage accepts plain JSON or Confluent-framed JSON payloads.
func decodeMessage(msg kafka.Message) (Message, error) {
	value := msg.Value
	schemaID := 0
	if len(value) >= 5 && value[0] == 0 {
		schemaID = int(binary.BigEndian.Uint32(value[1:5]))
		value = value[5:]
	}
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return Message{}, errors.New("empty payload")
	}

	var record normalize.RawInputRecord
	dec := json.NewDecoder(bytes.NewReader(value))
	if err := dec.Decode(&record); err != nil {
		return Message{}, fmt.Errorf("decode raw record: %w", err)
	}
	if record.Kind == "" {
		if kind, ok := headerValue(msg, KindHeader); ok {
			record.Kind = normalize.Kind(kind)
		}
	}

	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Key:       string(msg.Key),
		SchemaID:  schemaID,
		Record:    record,
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
