package report

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"sis-grade-sync/internal/logger"
	"sis-grade-sync/internal/model"
	"sis-grade-sync/internal/storage"

	"github.com/rs/zerolog"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type LedgerReader interface {
	Summary(ctx context.Context, pipeline model.Pipeline) (*model.LedgerSummary, error)
	ListForReport(ctx context.Context, pipeline model.Pipeline) ([]model.GradeRecord, error)
}

// Publisher uploads the ledger workbook of a pipeline after each grade run.
type Publisher struct {
	ledger LedgerReader
	store  storage.Storage
	prefix string
	log    zerolog.Logger
}

func NewPublisher(ledger LedgerReader, store storage.Storage, prefix string) *Publisher {
	return &Publisher{ledger: ledger, store: store, prefix: prefix, log: logger.Component("report")}
}

// Workbook builds the current ledger workbook for pipeline.
func (p *Publisher) Workbook(ctx context.Context, pipeline model.Pipeline) (*bytes.Buffer, error) {
	summary, err := p.ledger.Summary(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("ledger summary: %w", err)
	}
	records, err := p.ledger.ListForReport(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("ledger rows: %w", err)
	}
	return BuildWorkbook(records, summary)
}

// Publish uploads the workbook for the run's pipeline and returns its key.
// Runs without a pipeline, or without storage configured, publish nothing.
func (p *Publisher) Publish(ctx context.Context, run *model.RunSummary) (string, error) {
	if p.store == nil || run.Pipeline == "" {
		return "", nil
	}

	buf, err := p.Workbook(ctx, run.Pipeline)
	if err != nil {
		return "", err
	}

	key := path.Join(p.prefix, string(run.Pipeline), fmt.Sprintf("%s-%s.xlsx", run.StartedAt.Format("20060102-150405"), run.Kind))
	if err := p.store.Upload(ctx, key, bytes.NewReader(buf.Bytes()), xlsxContentType); err != nil {
		return "", fmt.Errorf("upload report: %w", err)
	}

	p.log.Info().Str("key", key).Msg("Ledger report uploaded")
	return key, nil
}
