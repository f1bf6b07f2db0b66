package ruleset

import (
	"context"
	"math"
	"time"

	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/log"
	"github.com/keithlinneman/linnemanlabs-chunkplan/internal/xerrors"
)

const (
	DefaultPollInterval = 30 * time.Second

	// caps exponential backoff on consecutive SSM errors
	maxBackoff = 5 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollSwapped
	pollSSMError
	pollLoadError
	pollCheckError
)

// Fetcher is what the Watcher needs from a Loader.
type Fetcher interface {
	FetchCurrentHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*Set, error)
}

// WatcherMetrics is implemented by the metrics package.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(errType string)
	ObserveRulesetLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type WatcherOptions struct {
	Logger       log.Logger
	Loader       Fetcher
	PollInterval time.Duration

	// Manager receives every swap. When nil the watcher keeps its own and
	// OnSwap is the only way to observe new sets.
	Manager *Manager

	// Check runs against a downloaded set before it is swapped in. A
	// non-nil error keeps the current set.
	Check func(*Set) error

	// OnSwap runs synchronously on the poll goroutine after a swap.
	OnSwap func(*Set)

	Metrics WatcherMetrics

	// StaleThreshold is how long SSM may fail before the rule set is
	// reported stale. Zero means 30 minutes.
	StaleThreshold time.Duration
}

// Watcher polls SSM for a new rule-set hash and hot-swaps the active Set.
type Watcher struct {
	loader   Fetcher
	manager  *Manager
	logger   log.Logger
	interval time.Duration
	check    func(*Set) error
	onSwap   func(*Set)
	metrics  WatcherMetrics

	currentHash     string
	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	stale          bool

	pollCount int64
	swapCount int64
}

func NewWatcher(opts *WatcherOptions) *Watcher {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	stale := opts.StaleThreshold
	if stale <= 0 {
		stale = 30 * time.Minute
	}

	mgr := opts.Manager
	if mgr == nil {
		mgr = NewManager()
	}

	// seed from the manager so the first poll does not reload what startup
	// already loaded
	current := ""
	if s, ok := mgr.Get(); ok && s.Meta.Source == SourceS3 {
		current = s.Meta.SHA256
	}

	return &Watcher{
		loader:         opts.Loader,
		manager:        mgr,
		logger:         L,
		interval:       interval,
		check:          opts.Check,
		onSwap:         opts.OnSwap,
		metrics:        opts.Metrics,
		currentHash:    current,
		staleThreshold: stale,
		lastSuccessAt:  time.Now(),
	}
}

// Run polls until ctx is cancelled. Launch as: go w.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "ruleset watcher starting",
		"poll_interval", w.interval.String(),
		"current_hash", truncHash(w.currentHash),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "ruleset watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-ticker.C:
			if next, changed := w.afterPoll(ctx, w.checkOnce(ctx)); changed {
				ticker.Reset(next)
			}
		}
	}
}

// afterPoll updates backoff and staleness state and returns the next
// ticker interval when it changed.
func (w *Watcher) afterPoll(ctx context.Context, result pollResult) (time.Duration, bool) {
	var next time.Duration
	changed := false

	if result == pollSSMError {
		w.consecutiveErrs++
		next, changed = w.backoffDuration(), true
		w.logger.Warn(ctx, "ruleset watcher: backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_poll_in", next.String(),
		)
		if !w.stale && time.Since(w.lastSuccessAt) > w.staleThreshold {
			w.stale = true
			w.logger.Error(ctx,
				xerrors.Newf("last successful SSM poll was %s ago", time.Since(w.lastSuccessAt).Truncate(time.Second)),
				"ruleset watcher: rule set is stale",
			)
			if w.metrics != nil {
				w.metrics.SetWatcherStale(true)
			}
		}
		return next, changed
	}

	if w.consecutiveErrs > 0 {
		w.logger.Info(ctx, "ruleset watcher: recovered, resuming normal interval",
			"had_consecutive_errors", w.consecutiveErrs,
		)
		w.consecutiveErrs = 0
		next, changed = w.interval, true
	}
	if w.stale {
		w.stale = false
		w.logger.Info(ctx, "ruleset watcher: staleness recovered")
		if w.metrics != nil {
			w.metrics.SetWatcherStale(false)
		}
	}
	return next, changed
}

func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	hash, err := w.loader.FetchCurrentHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "ruleset watcher: SSM poll failed")
		w.incError("ssm")
		return pollSSMError
	}

	now := time.Now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "ruleset watcher: new rule set hash detected",
		"old_hash", truncHash(w.currentHash),
		"new_hash", truncHash(hash),
	)

	start := time.Now()
	s, err := w.loader.LoadHash(ctx, hash)
	if w.metrics != nil {
		w.metrics.ObserveRulesetLoadDuration(time.Since(start).Seconds())
	}
	if err != nil {
		w.logger.Error(ctx, err, "ruleset watcher: failed to load rule set", "hash", truncHash(hash))
		w.incError("load")
		return pollLoadError
	}

	if w.check != nil {
		if err := w.check(s); err != nil {
			w.logger.Error(ctx, err, "ruleset watcher: new rule set failed checks, keeping current",
				"rejected_hash", truncHash(hash),
				"current_hash", truncHash(w.currentHash),
			)
			w.incError("check")
			return pollCheckError
		}
	}

	old := w.currentHash
	w.manager.Set(s)
	w.currentHash = hash
	w.swapCount++
	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}
	w.logger.Info(ctx, "ruleset watcher: rule set swapped",
		"old_hash", truncHash(old),
		"new_hash", truncHash(hash),
		"version", s.Meta.Version,
		"total_swaps", w.swapCount,
	)

	if w.onSwap != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error(ctx, xerrors.Newf("OnSwap panic: %v", r),
						"ruleset watcher: OnSwap callback panicked, continuing",
						"hash", truncHash(hash),
					)
				}
			}()
			w.onSwap(s)
		}()
	}
	return pollSwapped
}

func (w *Watcher) incError(kind string) {
	if w.metrics != nil {
		w.metrics.IncWatcherError(kind)
	}
}

// backoffDuration doubles the interval per consecutive error, capped at
// maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	d := time.Duration(float64(w.interval) * math.Pow(2, float64(w.consecutiveErrs)))
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

// ExpectChunks returns a Check that requires each module id to land in the
// given chunk ("" meaning deferred). Use it to pin critical assignments so
// a bad publish cannot reshuffle them.
func ExpectChunks(want map[string]string) func(*Set) error {
	return func(s *Set) error {
		var errs []error
		for id, chunk := range want {
			if got := s.Classifier.Classify(id).Chunk; got != chunk {
				errs = append(errs, xerrors.Newf("%s: chunk %q, want %q", id, got, chunk))
			}
		}
		return xerrors.Join(errs...)
	}
}

func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
