package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/tradeguard/internal/domain"
)

// multipartThreshold is the JSONL payload size above which the archiver
// switches from a single PutObject to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// Archiver periodically copies closed positions and their adjustment trails
// out of the primary store into S3 as JSONL, partitioned by year-month.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type Archiver struct {
	writer    *Writer
	store     domain.ArchiveStore
	retention time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. retention is how long closed positions
// stay in the primary store before being eligible for archival.
func NewArchiver(writer *Writer, store domain.ArchiveStore, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		store:     store,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// archivedPosition is one JSONL record: the closed position together with its
// full adjustment trail, so a single line replays the position's lifetime.
type archivedPosition struct {
	Position domain.Position          `json:"position"`
	Events   []domain.AdjustmentEvent `json:"events"`
}

// ArchiveClosedPositions queries positions closed before the cutoff, bundles
// each with its adjustment events, and uploads the batch to
// archive/positions/YYYY-MM.jsonl. It returns the number of positions
// archived.
func (a *Archiver) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	positions, err := a.store.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	records := make([]archivedPosition, 0, len(positions))
	for _, p := range positions {
		events, err := a.store.ListEventsByPosition(ctx, p.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events for %s: %w", p.ID, err)
		}
		records = append(records, archivedPosition{Position: p, Events: events})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath("positions", before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	a.logger.Info("archived closed positions",
		slog.String("path", path),
		slog.Int("count", len(records)),
	)
	return int64(len(records)), nil
}

// RunLoop archives on the given interval until ctx is cancelled. Failures are
// logged and retried on the next interval.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().Add(-a.retention)
			if _, err := a.ArchiveClosedPositions(ctx, cutoff); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/positions/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
