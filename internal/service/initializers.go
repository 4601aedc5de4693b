// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/arborist/internal/config"
	"github.com/xkilldash9x/arborist/internal/kb"
	"github.com/xkilldash9x/arborist/internal/scenario"
	"github.com/xkilldash9x/arborist/internal/semantic"
	"github.com/xkilldash9x/arborist/internal/similarity"
	"github.com/xkilldash9x/arborist/internal/woz"
)

// Knowledge is the loaded reference data: the KB index, every scenario found
// and the context for the active one.
type Knowledge struct {
	Index     *kb.Index
	Scenarios map[string]*scenario.Scenario
	Context   *scenario.Context
}

// Bootstrap loads the KB and the scenario directory concurrently. A source
// that fails to load is logged and replaced by empty data, so the assistant
// always starts. Only cancellation of ctx is returned as an error.
func Bootstrap(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Knowledge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("Bootstrap")
	data := cfg.Data()

	var (
		entries   []kb.Entry
		scenarios map[string]*scenario.Scenario
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if data.KBPath == "" {
			log.Warn("No KB path configured; starting with an empty knowledge base.")
			return nil
		}
		loaded, err := kb.LoadFile(data.KBPath)
		if err != nil {
			log.Warn("Failed to load KB; starting with an empty knowledge base.", zap.Error(err))
			return gctx.Err()
		}
		entries = loaded
		return gctx.Err()
	})
	g.Go(func() error {
		if data.ScenarioDir == "" {
			return nil
		}
		loaded, err := scenario.LoadDir(data.ScenarioDir)
		if err != nil {
			log.Warn("Some scenarios failed to load.", zap.Error(err))
		}
		scenarios = loaded
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bootstrap interrupted: %w", err)
	}
	if scenarios == nil {
		scenarios = make(map[string]*scenario.Scenario)
	}

	matching := cfg.Matching()
	idx := kb.NewIndex(entries, similarity.NewScorer(matching.SimilarityWeights()), logger)

	active, ok := scenarios[data.Scenario]
	if !ok {
		log.Warn("Scenario not found; using a generic one.", zap.String("scenario", data.Scenario))
		active = scenario.Generic(data.Scenario)
	}
	log.Info("Knowledge loaded.",
		zap.Int("kb_entries", idx.Len()),
		zap.Int("scenarios", len(scenarios)),
		zap.String("active_scenario", active.ID))

	return &Knowledge{
		Index:     idx,
		Scenarios: scenarios,
		Context:   scenario.NewContext(active, idx, matching.Thresholds()),
	}, nil
}

// InitializeAdvisor builds the semantic advisor for the configured provider.
// A disabled section yields a disabled advisor.
func InitializeAdvisor(ctx context.Context, cfg config.SemanticConfig, idx *kb.Index, logger *zap.Logger) (*semantic.Advisor, error) {
	acfg := semantic.AdvisorConfig{Threshold: cfg.Threshold, TopK: cfg.TopK, Timeout: cfg.Timeout}
	if !cfg.Enabled {
		return semantic.NewAdvisor(nil, acfg, logger), nil
	}

	var embedder semantic.Embedder
	switch cfg.Provider {
	case config.ProviderGemini:
		g, err := semantic.NewGeminiEmbedder(ctx, semantic.GeminiConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gemini embedder: %w", err)
		}
		embedder = g
	default:
		embedder = semantic.LexicalEmbedder{}
	}
	return semantic.NewAdvisor(semantic.NewIndex(embedder, idx, logger), acfg, logger), nil
}

// InitializeWoZ creates the feed poller, or nil when the feed is disabled.
func InitializeWoZ(cfg config.WoZConfig, logger *zap.Logger) *woz.Poller {
	if !cfg.Enabled || cfg.RemoteURL == "" {
		return nil
	}
	return woz.NewPoller(woz.Config{
		RemoteURL:    cfg.RemoteURL,
		PollInterval: cfg.PollInterval,
		Jitter:       cfg.Jitter,
		MaxBackoff:   cfg.MaxBackoff,
		MaxReturned:  cfg.MaxReturned,
	}, &http.Client{Timeout: 10 * time.Second}, logger)
}

func sortedStrings(in []string) []string {
	sort.Strings(in)
	return in
}
