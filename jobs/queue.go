package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/blobrelay/blobrelay/fault"
	"github.com/blobrelay/blobrelay/log"
	"github.com/blobrelay/blobrelay/metrics"
	"github.com/blobrelay/blobrelay/store"
)

const (
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff = 5 * time.Second

	// MaxBackoff caps the retry delay.
	MaxBackoff = 5 * time.Minute

	// MaxAttempts bounds completion retries before an intent is abandoned.
	MaxAttempts = 20

	// defaultPollInterval is how often workers re-scan for due intents.
	defaultPollInterval = time.Second
)

// backoff returns the delay before the next attempt after the given number
// of failed attempts.
func backoff(attempts int) time.Duration {
	if attempts > 6 {
		return MaxBackoff
	}
	d := BaseBackoff << uint(attempts)
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// Queue drives pending CompletionIntents to their terminal state. Workers
// coordinate exclusively through the store: a compare-and-set claim moves an
// intent to in_flight with a due-time lease, so a crashed worker's claim
// resurfaces for pickup once the lease passes.
type Queue struct {
	store        store.Store
	escrow       Escrow
	workers      int
	pollInterval time.Duration
	now          func() time.Time
	logger       *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a retry queue with the given worker count.
func NewQueue(st store.Store, esc Escrow, workers int, logger *log.Logger) *Queue {
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{
		store:        st,
		escrow:       esc,
		workers:      workers,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		logger:       logger.Module("queue"),
	}
}

// Start launches the worker pool.
func (q *Queue) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run(ctx)
	}
	q.logger.Info("completion queue started", "workers", q.workers)
}

// Stop halts the workers. Intents persist and are retried on next boot.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	q.logger.Info("completion queue stopped")
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.RunOnce(ctx); err != nil {
				q.logger.Warn("intent scan failed", "err", err)
			}
		}
	}
}

// RunOnce scans for due intents and processes every one this worker manages
// to claim. It is the unit the pool loops over and is exported for direct
// driving in tests and tooling.
func (q *Queue) RunOnce(ctx context.Context) error {
	now := q.now()
	records, err := q.store.ScanDueBefore(intentPrefix, now)
	if err != nil {
		return err
	}
	metrics.QueueDepth.Set(int64(len(records)))
	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		in, err := decodeIntent(rec.Value)
		if err != nil {
			q.logger.Error("dropping corrupt intent", "key", rec.Key, "err", err)
			continue
		}
		claimed, ok := q.claim(rec, in)
		if !ok {
			continue
		}
		q.process(ctx, rec.Key, claimed)
	}
	return nil
}

// claim transitions an intent to in_flight with a lease of one backoff
// interval. A false return means another worker got there first.
func (q *Queue) claim(rec store.Record, in *Intent) (*Intent, bool) {
	switch in.State {
	case StatePending, StateInFlight:
		// in_flight with a passed due time is a lease abandoned by a
		// crashed or stalled worker; reclaim it.
	default:
		return nil, false
	}
	claimed := *in
	claimed.State = StateInFlight
	claimed.NextAttemptAt = q.now().Add(backoff(in.Attempts))
	ok, err := q.store.CompareAndSet(rec.Key, rec.Value, claimed.encode(),
		store.Options{DueAt: claimed.NextAttemptAt})
	if err != nil {
		q.logger.Warn("claiming intent failed", "jobId", in.JobID.Hex(), "err", err)
		return nil, false
	}
	return &claimed, ok
}

func (q *Queue) process(ctx context.Context, key string, in *Intent) {
	// The escrow rejects double completions; check the job state first so a
	// replay after a crash-during-confirmation settles without an RPC
	// revert.
	job, err := q.escrow.GetJob(ctx, in.JobID)
	if err == nil && job.Exists && job.Completed {
		q.logger.Info("job already completed on chain", "jobId", in.JobID.Hex())
		q.finish(key, in, StateSucceeded)
		metrics.CompletionsSucceeded.Inc()
		return
	}

	metrics.CompletionsAttempted.Inc()
	txHash, err := q.escrow.CompleteJob(ctx, in.JobID, in.BlobTxHash, in.Proof)
	if err == nil {
		q.logger.Info("completion confirmed",
			"jobId", in.JobID.Hex(), "tx", txHash.Hex(), "attempts", in.Attempts+1)
		q.finish(key, in, StateSucceeded)
		metrics.CompletionsSucceeded.Inc()
		return
	}

	in.Attempts++
	if in.Attempts >= MaxAttempts {
		q.logger.Error("completion abandoned, payment will not be claimed",
			"jobId", in.JobID.Hex(), "blobTx", in.BlobTxHash.Hex(),
			"attempts", in.Attempts, "err", err)
		q.finish(key, in, StatePermanentlyFailed)
		metrics.CompletionsAbandoned.Inc()
		return
	}

	delay := backoff(in.Attempts)
	in.State = StatePending
	in.NextAttemptAt = q.now().Add(delay)
	if werr := q.store.Set(key, in.encode(), store.Options{DueAt: in.NextAttemptAt}); werr != nil {
		q.logger.Error("rescheduling intent failed", "jobId", in.JobID.Hex(), "err", werr)
		return
	}
	level := q.logger.Warn
	if fault.IsKind(err, fault.UpstreamUnavailable) {
		level = q.logger.Debug
	}
	level("completion attempt failed",
		"jobId", in.JobID.Hex(), "attempt", in.Attempts, "nextIn", delay, "err", err)
}

// finish writes a terminal state with no due time, so scans skip it, and a
// TTL so the record eventually clears out.
func (q *Queue) finish(key string, in *Intent, state string) {
	in.State = state
	in.NextAttemptAt = time.Time{}
	if err := q.store.Set(key, in.encode(), store.Options{TTL: ResultTTL}); err != nil {
		q.logger.Error("recording terminal intent failed", "jobId", in.JobID.Hex(), "err", err)
	}
}
