package consumer

import (
	"context"
	"errors"
	"log"

	"example.com/flowstate/internal/domain"
	"example.com/flowstate/internal/normalize"
)

// Ingester is the subset of domain.Service used by the handler.
type Ingester interface {
	Ingest(ctx context.Context, raw normalize.RawInputRecord) (domain.IngestResult, error)
}

// IngestHandler feeds consumed raw records to the activity log.
type IngestHandler struct {
	ingester Ingester
	logger   *log.Logger
}

// NewIngestHandler constructs a handler backed by the provided ingester.
func NewIngestHandler(ingester Ingester, logger *log.Logger) *IngestHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[consumer] ", log.LstdFlags)
	}
	return &IngestHandler{ingester: ingester, logger: logger}
}

// Handle ingests the record. Malformed records were already written to the
// reject log by the service, so they are reported as handled.
func (h *IngestHandler) Handle(ctx context.Context, msg Message) error {
	res, err := h.ingester.Ingest(ctx, msg.Record)
	if err != nil {
		if errors.Is(err, normalize.ErrMalformedRecord) {
			h.logger.Printf("dropped malformed record (topic=%s, offset=%d): %v", msg.Topic, msg.Offset, err)
			recordOutcome(msg.Topic, string(domain.OutcomeInvalid))
			return nil
		}
		return err
	}
	recordOutcome(msg.Topic, string(res.Outcome))
	return nil
}
