// Package woz merges facilitator-curated ("Wizard of Oz") suggestions from a
// remote JSON feed into the suggestion ranking.
package woz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/arborist/api/schemas"
	"github.com/xkilldash9x/arborist/internal/suggest"
)

// Defaults for Config.
const (
	DefaultPollInterval = 4 * time.Second
	DefaultJitter       = 500 * time.Millisecond
	DefaultMaxBackoff   = 60 * time.Second
	DefaultMaxReturned  = 10
	DefaultScoreBoost   = 0.3
	defaultReason       = "Suggested by the study facilitator."
	maxFeedBytes        = 1 << 20
)

// Feed is the remote document.
type Feed struct {
	Scenario string  `json:"scenario"`
	Entries  []Entry `json:"entries"`
}

// Entry is one curated suggestion.
type Entry struct {
	ID   string `json:"id"`
	When When   `json:"when"`
	What What   `json:"what"`
}

// When restricts an entry to parents whose label contains the alias.
type When struct {
	SelectedParentAlias string `json:"selected_parent_alias"`
}

// What is the suggestion text and how much it boosts the ranking.
type What struct {
	Text       string  `json:"text"`
	ScoreBoost float64 `json:"score_boost"`
	Why        string  `json:"why"`
}

// Config tunes the poller.
type Config struct {
	RemoteURL    string
	PollInterval time.Duration
	Jitter       time.Duration
	MaxBackoff   time.Duration
	MaxReturned  int
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxReturned <= 0 {
		c.MaxReturned = DefaultMaxReturned
	}
}

// Poller keeps the latest feed in memory. It implements suggest.Booster.
type Poller struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	feed atomic.Pointer[Feed]

	// backoffFactory builds the delay policy used after failed polls.
	backoffFactory func() backoff.BackOff

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

var _ suggest.Booster = (*Poller)(nil)

// NewPoller creates a Poller. A nil client uses a client with a 10s timeout.
func NewPoller(cfg Config, client *http.Client, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cfg.applyDefaults()
	p := &Poller{
		cfg:    cfg,
		client: client,
		// Manual refreshes share the budget with the loop: at most one
		// request per half interval.
		limiter: rate.NewLimiter(rate.Every(cfg.PollInterval/2), 1),
		logger:  logger.Named("WoZ"),
	}
	p.backoffFactory = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = p.cfg.MaxBackoff
		b.MaxElapsedTime = 0
		return b
	}
	return p
}

// Feed returns the last feed fetched, or nil.
func (p *Poller) Feed() *Feed {
	return p.feed.Load()
}

// SetFeed replaces the in-memory feed.
func (p *Poller) SetFeed(f *Feed) {
	p.feed.Store(f)
}

// PollOnce fetches the feed and stores it on success.
func (p *Poller) PollOnce(ctx context.Context) error {
	if p.cfg.RemoteURL == "" {
		return errors.New("woz remote url is not configured")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("woz poll rate limited: %w", err)
	}

	u, err := url.Parse(p.cfg.RemoteURL)
	if err != nil {
		return fmt.Errorf("invalid woz remote url: %w", err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(time.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build woz request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch woz feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("woz feed returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return fmt.Errorf("failed to read woz feed: %w", err)
	}
	var feed Feed
	if err := json.Unmarshal(body, &feed); err != nil {
		return fmt.Errorf("failed to decode woz feed: %w", err)
	}
	p.feed.Store(&feed)
	p.logger.Debug("WoZ feed refreshed", zap.Int("entries", len(feed.Entries)))
	return nil
}

// Start launches the polling loop. It is a no-op when already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Stop ends the polling loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	b := p.backoffFactory()
	var extra time.Duration
	for {
		if err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if next := b.NextBackOff(); next != backoff.Stop {
				extra = next
			}
			p.logger.Warn("WoZ poll failed", zap.Error(err), zap.Duration("backoff", extra))
		} else {
			b.Reset()
			extra = 0
		}

		timer := time.NewTimer(p.delay(extra))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// delay is the poll interval plus backoff and jitter, capped at MaxBackoff.
func (p *Poller) delay(extra time.Duration) time.Duration {
	d := p.cfg.PollInterval + extra
	if p.cfg.Jitter > 0 {
		d += rand.N(p.cfg.Jitter)
	}
	return min(d, p.cfg.MaxBackoff)
}

// Merge boosts suggestions named by matching feed entries, or appends new
// ones, then re-sorts and caps the list. The input slice is not modified.
func (p *Poller) Merge(ranked []schemas.Suggestion, scenarioID, parentLabel string) []schemas.Suggestion {
	feed := p.feed.Load()
	if feed == nil || len(feed.Entries) == 0 {
		return ranked
	}
	out := append([]schemas.Suggestion(nil), ranked...)
	parent := strings.ToLower(parentLabel)

	for _, ent := range feed.Entries {
		if feed.Scenario != "" && scenarioID != "" && feed.Scenario != scenarioID {
			continue
		}
		if want := strings.ToLower(strings.TrimSpace(ent.When.SelectedParentAlias)); want != "" && !strings.Contains(parent, want) {
			continue
		}
		text := strings.TrimSpace(ent.What.Text)
		if text == "" {
			continue
		}
		boost := ent.What.ScoreBoost
		if boost == 0 {
			boost = DefaultScoreBoost
		}

		i := indexOf(out, text)
		if i >= 0 {
			out[i].Score += boost
			continue
		}
		id := ent.ID
		if id == "" {
			id = "woz:" + uuid.NewString()
		}
		reason := strings.TrimSpace(ent.What.Why)
		if reason == "" {
			reason = defaultReason
		}
		out = append(out, schemas.Suggestion{ID: id, Name: text, Source: schemas.SourceWoZ, Reason: reason, Score: boost})
	}

	sort.SliceStable(out, func(i, j int) bool { return suggest.Less(out[i], out[j]) })
	if len(out) > p.cfg.MaxReturned {
		out = out[:p.cfg.MaxReturned]
	}
	return out
}

func indexOf(list []schemas.Suggestion, name string) int {
	for i, s := range list {
		label := s.Name
		if label == "" {
			label = s.ID
		}
		if strings.EqualFold(label, name) {
			return i
		}
	}
	return -1
}
