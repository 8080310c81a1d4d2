// Package ingest streams fact records into the store: records are decoded and
// tokenized on a worker pool, then applied in input order by a single writer.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/facts"
	"github.com/lanceczlt/Pun-Generator/pkg/identity"
	"github.com/lanceczlt/Pun-Generator/pkg/metrics"
	"github.com/lanceczlt/Pun-Generator/pkg/worker"
)

// DefaultMaxRecordSize bounds a single fact record.
const DefaultMaxRecordSize = 16 << 20

// WorkerPoolInterface abstracts the worker pool so tests can inject failing implementations.
type WorkerPoolInterface interface {
	Start(ctx context.Context)
	Submit(worker.Job) error
	// SubmitCtx attempts to enqueue a job but returns promptly if ctx is canceled.
	SubmitCtx(ctx context.Context, job worker.Job) error
	Close()
}

// Summary counts what happened to the records of one run.
type Summary struct {
	// Records is the number of non-blank records read.
	Records int
	Applied int
	NoOps   int
	// Skipped counts malformed records and unknown fact types.
	Skipped int
}

// Ingester handles the ingestion of fact records into the database.
type Ingester struct {
	DB       *sql.DB
	Importer *facts.Importer
	// BatchSize greater than one applies that many records per transaction.
	// The default of one auto-commits every statement.
	BatchSize     int
	FlushInterval time.Duration
	// Separator splits records; empty means one record per line.
	Separator string
	// MaxRecordSize bounds one record in bytes. Longer records are skipped as
	// malformed.
	MaxRecordSize int
	Logger    zerolog.Logger
	// OnProgress is called every ProgressEvery records with the running totals.
	OnProgress    func(Summary)
	ProgressEvery int

	// Concurrency settings
	Workers int

	// PoolFactory allows tests to inject custom worker pool implementations.
	PoolFactory func(workers, queue int) WorkerPoolInterface
}

// NewIngester creates a new Ingester.
func NewIngester(conn *sql.DB, im *facts.Importer) *Ingester {
	return &Ingester{
		DB:            conn,
		Importer:      im,
		BatchSize:     1,
		FlushInterval: 100 * time.Millisecond,
		Logger:        zerolog.Nop(),
		ProgressEvery: 1000,
		MaxRecordSize: DefaultMaxRecordSize,
		Workers:       4, // Default worker count
	}
}

// decodedRecord holds the result of decoding a record before it is applied.
type decodedRecord struct {
	Index int
	Line  int
	Fact  facts.Fact
	Error error
}

// tally is updated by the committer goroutine and read at the end of a run.
type tally struct {
	mu sync.Mutex
	s  Summary
}

func (t *tally) add(fn func(*Summary)) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.s)
	return t.s
}

// Recoverable reports whether err only affects a single record.
func Recoverable(err error) bool {
	return errors.Is(err, facts.ErrMalformedFact) ||
		errors.Is(err, facts.ErrUnknownFactType) ||
		errors.Is(err, identity.ErrEmptyKey)
}

// Ingest reads records from r and applies them. Malformed records and unknown
// fact types are logged and skipped; a store failure stops the run and is
// returned together with the totals so far.
func (ig *Ingester) Ingest(ctx context.Context, r io.Reader) (Summary, error) {
	if ig.Importer == nil {
		return Summary{}, errors.New("ingest: no importer configured")
	}
	workers := ig.Workers
	if workers <= 0 {
		workers = 1
	}
	logger := ig.Logger.With().Str("run", uuid.NewString()).Logger()
	started := time.Now()

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 1. Setup concurrency components
	var wp WorkerPoolInterface
	if ig.PoolFactory != nil {
		wp = ig.PoolFactory(workers, workers*2)
	} else {
		wp = worker.New(workers, workers*2)
	}
	resultCh := make(chan decodedRecord, workers*2)
	doneCh := make(chan error, 1)

	var t tally
	bw := NewBatchWriter(ig.DB, ig.BatchSize, ig.FlushInterval)
	bw.OnError = func(err error) {
		// ids created inside a rolled back transaction no longer exist
		if bw.Transactional() {
			ig.Importer.Identities.Reset()
		}
		cancel()
	}

	wp.Start(ctx)

	// 2. Consumer: reorder decoded records and hand them to the writer in input order.
	go func() {
		defer close(doneCh)
		buffer := make(map[int]decodedRecord)
		nextIdx := 0
		var submitErr error

		for res := range resultCh {
			if submitErr != nil {
				// keep draining so workers never block
				continue
			}
			buffer[res.Index] = res
			for {
				item, ok := buffer[nextIdx]
				if !ok {
					break
				}
				delete(buffer, nextIdx)
				nextIdx++
				if err := bw.Submit(ig.apply(logger, item, &t)); err != nil {
					submitErr = err
					cancel()
					break
				}
			}
		}
		doneCh <- submitErr
	}()

	// 3. Producer loop: read records and submit decoding jobs
	maxSize := ig.MaxRecordSize
	if maxSize <= 0 {
		maxSize = DefaultMaxRecordSize
	}
	rr := newRecordReader(r, ig.Separator, maxSize)

	var prodErr error
	line, idx := 0, 0
Loop:
	for ctx.Err() == nil {
		rec, tooLong, err := rr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			prodErr = fmt.Errorf("read records: %w", err)
			cancel()
			break
		}
		line++
		var recErr error
		if tooLong {
			recErr = fmt.Errorf("%w: record exceeds %d bytes", facts.ErrMalformedFact, maxSize)
		} else if rec = bytes.TrimSpace(rec); len(rec) == 0 {
			continue
		}
		res := decodedRecord{Index: idx, Line: line}
		idx++

		job := func(ctx context.Context) error {
			if recErr != nil {
				res.Error = recErr
			} else {
				// CPU-bound work: decode the record and tokenize its phrases
				f, err := facts.Decode(rec)
				if err == nil {
					f = ig.Importer.Prepare(f)
				}
				res.Fact, res.Error = f, err
			}
			select {
			case resultCh <- res:
			case <-ctx.Done():
			}
			return nil
		}

		if err := wp.SubmitCtx(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, worker.ErrPoolClosed) {
				break Loop
			}
			prodErr = fmt.Errorf("submit record %d: %w", line, err)
			cancel()
			break Loop
		}
	}

	// Ensure there are no more worker goroutines running and close the result channel to
	// signal the consumer that no more items will arrive.
	wp.Close()
	close(resultCh)
	consumerErr := <-doneCh
	writeErr := bw.Close()

	summary := t.add(func(*Summary) {})
	summary.Records = idx
	if ig.OnProgress != nil {
		ig.OnProgress(summary)
	}
	logger.Info().
		Int("records", summary.Records).
		Int("applied", summary.Applied).
		Int("noop", summary.NoOps).
		Int("skipped", summary.Skipped).
		Dur("elapsed", time.Since(started)).
		Msg("ingestion finished")

	switch {
	case prodErr != nil:
		return summary, prodErr
	case writeErr != nil:
		return summary, writeErr
	case consumerErr != nil && !errors.Is(consumerErr, ErrBatchWriterClosed):
		return summary, consumerErr
	case parent.Err() != nil:
		return summary, parent.Err()
	}
	return summary, nil
}

// apply builds the write operation for one decoded record.
func (ig *Ingester) apply(logger zerolog.Logger, rec decodedRecord, t *tally) WriteFunc {
	return func(ctx context.Context, exec db.DBExecutor) error {
		factType := "invalid"
		err := rec.Error
		outcome := facts.NoOp
		if err == nil {
			factType = rec.Fact.Type()
			if _, ok := rec.Fact.(facts.UnknownFact); ok {
				factType = "unknown"
			}
			outcome, err = ig.Importer.Import(ctx, exec, rec.Fact)
		}

		var s Summary
		switch {
		case err == nil && outcome == facts.Applied:
			s = t.add(func(s *Summary) { s.Applied++ })
			metrics.FactsTotal.WithLabelValues(factType, "applied").Inc()
		case err == nil:
			s = t.add(func(s *Summary) { s.NoOps++ })
			metrics.FactsTotal.WithLabelValues(factType, "noop").Inc()
		case Recoverable(err):
			logger.Warn().Err(err).Int("line", rec.Line).Msg("skipping record")
			s = t.add(func(s *Summary) { s.Skipped++ })
			metrics.FactsTotal.WithLabelValues(factType, "skipped").Inc()
		default:
			return fmt.Errorf("record at line %d: %w", rec.Line, err)
		}

		if ig.OnProgress != nil && ig.ProgressEvery > 0 {
			if done := s.Applied + s.NoOps + s.Skipped; done%ig.ProgressEvery == 0 {
				ig.OnProgress(s)
			}
		}
		return nil
	}
}

// recordReader frames records on a separator. Records longer than max are
// discarded up to the next separator and reported as too long.
type recordReader struct {
	r   *bufio.Reader
	sep []byte
	max int
}

func newRecordReader(r io.Reader, sep string, max int) *recordReader {
	if sep == "" {
		sep = "\n"
	}
	return &recordReader{r: bufio.NewReaderSize(r, 64*1024), sep: []byte(sep), max: max}
}

// next returns the following record without its separator. It returns io.EOF
// once the input is exhausted.
func (rr *recordReader) next() (rec []byte, tooLong bool, err error) {
	last := rr.sep[len(rr.sep)-1]
	keep := len(rr.sep) - 1
	var buf []byte
	for {
		chunk, err := rr.r.ReadSlice(last)
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			if !bytes.HasSuffix(buf, rr.sep) {
				break
			}
			buf = buf[:len(buf)-len(rr.sep)]
			if tooLong || len(buf) > rr.max {
				return nil, true, nil
			}
			return buf, false, nil
		case errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			if tooLong || len(buf) > rr.max {
				return nil, true, nil
			}
			if len(buf) == 0 {
				return nil, false, io.EOF
			}
			return buf, false, nil
		default:
			return nil, false, err
		}
		// past the limit only the bytes that could begin a separator are kept
		if len(buf) > rr.max+keep {
			tooLong = true
			buf = append(buf[:0], buf[len(buf)-keep:]...)
		}
	}
}
