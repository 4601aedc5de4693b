package woz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/arborist/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const feedJSON = `{
  "scenario": "auth",
  "entries": [
    {"id": "w1", "when": {"selected_parent_alias": "reset"}, "what": {"text": "Intercept Reset Email", "score_boost": 0.5}},
    {"when": {}, "what": {"text": "Call the help desk", "why": "Social engineering is in scope."}}
  ]
}`

// -- Test Helper Functions --

func noKeepAlive() *http.Client {
	return &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: time.Second}
}

func feedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func fastPoller(url string) *Poller {
	p := NewPoller(Config{RemoteURL: url, PollInterval: 10 * time.Millisecond, Jitter: 0, MaxBackoff: 50 * time.Millisecond}, noKeepAlive(), nil)
	p.backoffFactory = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return p
}

func ranked() []schemas.Suggestion {
	return []schemas.Suggestion{
		{ID: "credential_stuffing", Name: "Credential Stuffing", Source: schemas.SourceScenario, Score: 0.9},
		{ID: "intercept_reset_email", Name: "Intercept Reset Email", Source: schemas.SourceScenario, Score: 0.7},
	}
}

// -- Polling --

func TestPollOnce(t *testing.T) {
	t.Run("should fetch and store the feed", func(t *testing.T) {
		srv := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, r.URL.Query().Get("t"), "requests are cache-busted")
			assert.Equal(t, "no-store", r.Header.Get("Cache-Control"))
			_, _ = w.Write([]byte(feedJSON))
		})
		p := fastPoller(srv.URL + "/feed.json")
		require.NoError(t, p.PollOnce(context.Background()))
		feed := p.Feed()
		require.NotNil(t, feed)
		assert.Equal(t, "auth", feed.Scenario)
		require.Len(t, feed.Entries, 2)
		assert.Equal(t, "reset", feed.Entries[0].When.SelectedParentAlias)
		assert.Equal(t, 0.5, feed.Entries[0].What.ScoreBoost)
	})

	t.Run("should keep the old feed on errors", func(t *testing.T) {
		srv := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "broken") {
				_, _ = w.Write([]byte("{not json"))
				return
			}
			w.WriteHeader(http.StatusBadGateway)
		})
		p := fastPoller(srv.URL + "/down")
		p.SetFeed(&Feed{Scenario: "kept"})

		err := p.PollOnce(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 502")

		p.cfg.RemoteURL = srv.URL + "/broken"
		assert.Error(t, p.PollOnce(context.Background()))
		assert.Equal(t, "kept", p.Feed().Scenario)
	})

	t.Run("should require a remote url", func(t *testing.T) {
		assert.Error(t, NewPoller(Config{}, nil, nil).PollOnce(context.Background()))
	})
}

func TestPollerLoop(t *testing.T) {
	var hits atomic.Int32
	srv := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(feedJSON))
	})
	p := fastPoller(srv.URL)

	p.Start(context.Background())
	p.Start(context.Background())
	require.Eventually(t, func() bool { return p.Feed() != nil }, 2*time.Second, 5*time.Millisecond,
		"the loop keeps polling through failures")
	p.Stop()
	p.Stop()

	after := hits.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, hits.Load(), "no polls after Stop")
}

func TestDelay(t *testing.T) {
	p := NewPoller(Config{PollInterval: 4 * time.Second, Jitter: 500 * time.Millisecond, MaxBackoff: 10 * time.Second}, nil, nil)
	for i := 0; i < 20; i++ {
		d := p.delay(0)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.Less(t, d, 4500*time.Millisecond)
	}
	assert.Equal(t, 10*time.Second, p.delay(time.Minute), "capped at the maximum backoff")
}

// -- Merge --

func TestMerge(t *testing.T) {
	t.Run("should pass through without a feed", func(t *testing.T) {
		p := NewPoller(Config{}, nil, nil)
		in := ranked()
		assert.Equal(t, in, p.Merge(in, "auth", "anything"))
	})

	p := NewPoller(Config{MaxReturned: 10}, nil, nil)
	p.SetFeed(&Feed{Scenario: "auth", Entries: []Entry{
		{ID: "w1", When: When{SelectedParentAlias: "Reset"}, What: What{Text: "intercept reset email", ScoreBoost: 0.5}},
		{What: What{Text: "Call the help desk", Why: "Social engineering is in scope."}},
		{What: What{Text: "  "}},
	}})

	t.Run("should boost matching names and append new entries", func(t *testing.T) {
		in := ranked()
		got := p.Merge(in, "auth", "Password Reset Flow")
		require.Len(t, got, 3)
		assert.Equal(t, "intercept_reset_email", got[0].ID)
		assert.InDelta(t, 1.2, got[0].Score, 1e-9)
		assert.Equal(t, "credential_stuffing", got[1].ID)

		added := got[2]
		assert.True(t, strings.HasPrefix(added.ID, "woz:"))
		assert.Equal(t, "Call the help desk", added.Name)
		assert.Equal(t, schemas.SourceWoZ, added.Source)
		assert.Equal(t, "Social engineering is in scope.", added.Reason)
		assert.Equal(t, DefaultScoreBoost, added.Score)

		assert.Equal(t, 0.7, in[1].Score, "input is not modified")
	})

	t.Run("should honour the parent alias", func(t *testing.T) {
		got := p.Merge(ranked(), "auth", "Phishing")
		require.Len(t, got, 3)
		assert.Equal(t, 0.7, got[1].Score)
	})

	t.Run("should skip feeds for other scenarios", func(t *testing.T) {
		assert.Equal(t, ranked(), p.Merge(ranked(), "shop", "reset"))
	})

	t.Run("should cap the merged list", func(t *testing.T) {
		small := NewPoller(Config{MaxReturned: 2}, nil, nil)
		small.SetFeed(p.Feed())
		assert.Len(t, small.Merge(ranked(), "auth", "reset"), 2)
	})
}
