package semantic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Query channels. Each channel has its own generation counter, so a newer
// query only supersedes older queries of the same kind.
const (
	ChannelExplain = "explain"
	ChannelSuggest = "suggest"
	ChannelPrune   = "prune"
)

// Defaults for AdvisorConfig.
const (
	DefaultThreshold = 0.6
	DefaultTopK      = 3
	DefaultTimeout   = 1500 * time.Millisecond
)

// AdvisorConfig bounds how the oracle is consulted.
type AdvisorConfig struct {
	Threshold float64
	TopK      int
	Timeout   time.Duration
}

// Advisor wraps an Oracle for interactive callers: every query is bounded by a
// timeout, failures are swallowed, and an answer is dropped when a newer query
// on the same channel started while it was in flight.
type Advisor struct {
	oracle Oracle
	cfg    AdvisorConfig
	log    *zap.Logger

	gens sync.Map // channel -> *atomic.Uint64
	wg   sync.WaitGroup
}

// NewAdvisor wraps oracle. A nil oracle yields a disabled advisor whose
// queries always come back empty.
func NewAdvisor(oracle Oracle, cfg AdvisorConfig, logger *zap.Logger) *Advisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Advisor{oracle: oracle, cfg: cfg, log: logger.Named("SemanticAdvisor")}
}

// Enabled reports whether an oracle is attached. A nil advisor is disabled.
func (a *Advisor) Enabled() bool {
	return a != nil && a.oracle != nil
}

// Threshold is the minimum cosine score callers should accept.
func (a *Advisor) Threshold() float64 { return a.cfg.Threshold }

// TopK is the default number of neighbours to request.
func (a *Advisor) TopK() int { return a.cfg.TopK }

// Timeout bounds a single oracle query. A nil advisor has none.
func (a *Advisor) Timeout() time.Duration {
	if a == nil {
		return 0
	}
	return a.cfg.Timeout
}

func (a *Advisor) counter(channel string) *atomic.Uint64 {
	v, _ := a.gens.LoadOrStore(channel, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// Nearest queries the oracle for the k nearest entries scoring at least the
// threshold. The bool is false when the oracle is disabled, not ready, timed
// out, failed, or the answer went stale.
func (a *Advisor) Nearest(ctx context.Context, channel, query string, k int) ([]Match, bool) {
	if !a.Enabled() {
		return nil, false
	}
	if k <= 0 {
		k = a.cfg.TopK
	}
	gen := a.counter(channel)
	mine := gen.Add(1)

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	if !a.oracle.Ready(ctx) {
		a.log.Debug("Oracle not ready; skipping", zap.String("channel", channel))
		return nil, false
	}
	matches, err := a.oracle.TopK(ctx, query, k)
	if err != nil {
		a.log.Debug("Oracle query failed; skipping", zap.String("channel", channel), zap.Error(err))
		return nil, false
	}
	if gen.Load() != mine {
		a.log.Debug("Discarding stale oracle answer", zap.String("channel", channel), zap.Uint64("generation", mine))
		return nil, false
	}

	out := matches[:0:0]
	for _, m := range matches {
		if m.Score >= a.cfg.Threshold {
			out = append(out, m)
		}
	}
	return out, true
}

// NearestAsync runs Nearest in the background and hands a fresh answer to
// deliver. Stale or failed answers are dropped silently.
func (a *Advisor) NearestAsync(ctx context.Context, channel, query string, k int, deliver func([]Match)) {
	if !a.Enabled() {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if matches, ok := a.Nearest(ctx, channel, query, k); ok {
			deliver(matches)
		}
	}()
}

// Warm builds the oracle's index in the background so the first interactive
// query does not pay for it.
func (a *Advisor) Warm(ctx context.Context) {
	if !a.Enabled() {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		start := time.Now()
		ready := a.oracle.Ready(ctx)
		a.log.Debug("Oracle warm-up finished", zap.Bool("ready", ready), zap.Duration("took", time.Since(start)))
	}()
}

// Wait blocks until every background query and warm-up has returned.
func (a *Advisor) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
