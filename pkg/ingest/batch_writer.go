package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lanceczlt/Pun-Generator/pkg/db"
	"github.com/lanceczlt/Pun-Generator/pkg/metrics"
)

// WriteFunc performs database writes. exec is a transaction when the writer
// batches, and the database handle itself in auto-commit mode.
type WriteFunc func(ctx context.Context, exec db.DBExecutor) error

// BatchWriter runs write operations on a single committer goroutine in
// submission order. With a batch size above one, each batch runs inside a
// transaction; otherwise every statement commits on its own. After the first
// failure the remaining batches are dropped.
type BatchWriter struct {
	conn      *sql.DB
	batchSize int

	mu      sync.Mutex
	pending []WriteFunc
	closed  bool

	batches chan []WriteFunc
	stop    chan struct{}
	tickers sync.WaitGroup
	commits sync.WaitGroup

	// OnError is called from the committer goroutine with the first error.
	OnError func(error)

	errOnce  sync.Once
	errMu    sync.Mutex
	firstErr error
}

// NewBatchWriter starts a writer on conn. batchSize <= 1 auto-commits every
// write; flushInterval > 0 also flushes partial batches periodically.
// A nil conn runs writes with a nil executor, which tests use.
func NewBatchWriter(conn *sql.DB, batchSize int, flushInterval time.Duration) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 1
	}
	bw := &BatchWriter{
		conn:      conn,
		batchSize: batchSize,
		pending:   make([]WriteFunc, 0, batchSize),
		batches:   make(chan []WriteFunc, 2),
		stop:      make(chan struct{}),
	}

	bw.commits.Add(1)
	go bw.commitLoop()

	if flushInterval > 0 && batchSize > 1 {
		bw.tickers.Add(1)
		go bw.tickLoop(flushInterval)
	}
	return bw
}

// Transactional reports whether batches run inside transactions.
func (bw *BatchWriter) Transactional() bool { return bw.batchSize > 1 }

// Submit queues w. It blocks while the committer is behind by more than a
// couple of batches.
func (bw *BatchWriter) Submit(w WriteFunc) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return ErrBatchWriterClosed
	}
	bw.pending = append(bw.pending, w)
	if len(bw.pending) >= bw.batchSize {
		bw.handOff()
	}
	return nil
}

// Err returns the first error recorded by the committer, if any.
func (bw *BatchWriter) Err() error {
	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.firstErr
}

func (bw *BatchWriter) fail(err error) {
	bw.errOnce.Do(func() {
		bw.errMu.Lock()
		bw.firstErr = err
		bw.errMu.Unlock()
		if bw.OnError != nil {
			bw.OnError(err)
		}
	})
}

// handOff sends the pending writes to the committer. bw.mu must be held.
func (bw *BatchWriter) handOff() {
	if len(bw.pending) == 0 {
		return
	}
	bw.batches <- bw.pending
	bw.pending = make([]WriteFunc, 0, bw.batchSize)
}

func (bw *BatchWriter) tickLoop(every time.Duration) {
	defer bw.tickers.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-bw.stop:
			return
		case <-t.C:
			bw.mu.Lock()
			if !bw.closed {
				bw.handOff()
			}
			bw.mu.Unlock()
		}
	}
}

func (bw *BatchWriter) commitLoop() {
	defer bw.commits.Done()
	for batch := range bw.batches {
		if bw.Err() != nil {
			continue
		}
		start := time.Now()
		err := bw.commit(batch)
		metrics.BatchCommitSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			bw.fail(err)
		}
	}
}

// commit applies one batch. Writes run with a background context so a
// batch already handed off is never half-applied because a caller went away.
func (bw *BatchWriter) commit(batch []WriteFunc) error {
	ctx := context.Background()

	var exec db.DBExecutor
	switch {
	case bw.conn == nil:
	case !bw.Transactional():
		exec = bw.conn
	default:
		tx, err := bw.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin batch tx: %w: %w", db.ErrStore, err)
		}
		defer func() {
			_ = tx.Rollback() // ignored if committed
		}()
		if err := runAll(ctx, tx, batch); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit batch (%d items): %w: %w", len(batch), db.ErrStore, err)
		}
		return nil
	}
	return runAll(ctx, exec, batch)
}

func runAll(ctx context.Context, exec db.DBExecutor, batch []WriteFunc) error {
	for _, w := range batch {
		if err := w(ctx, exec); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes pending writes, waits for the committer and returns the first
// error recorded while writing.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return ErrBatchWriterClosed
	}
	bw.closed = true
	bw.handOff()
	bw.mu.Unlock()

	close(bw.stop)
	bw.tickers.Wait()
	close(bw.batches)
	bw.commits.Wait()

	return bw.Err()
}

// ErrBatchWriterClosed is returned by Submit and Close after Close.
var ErrBatchWriterClosed = &BatchWriterError{"batch writer closed"}

type BatchWriterError struct{ msg string }

func (e *BatchWriterError) Error() string { return e.msg }
