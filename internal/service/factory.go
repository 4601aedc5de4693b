// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/internal/config"
	"github.com/xkilldash9x/arborist/internal/observability"
	"github.com/xkilldash9x/arborist/internal/prune"
	"github.com/xkilldash9x/arborist/internal/suggest"
)

// CreateOptions selects the long-lived parts of a session.
type CreateOptions struct {
	// Session opens the session event log.
	Session bool
	// Poll starts the WoZ poller in the background; otherwise the feed is
	// fetched once.
	Poll bool
}

// ComponentFactory builds the Components for a session. It is an interface so
// commands can be tested with fakes.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, opts CreateOptions, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create loads knowledge and wires the engines.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, opts CreateOptions, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	components := &Components{logger: logger.Named("Components")}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Reference data
	knowledge, err := Bootstrap(ctx, cfg, logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Knowledge = knowledge

	// 2. Semantic oracle
	advisor, err := InitializeAdvisor(ctx, cfg.Semantic(), knowledge.Index, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize semantic advisor: %w", err)
		return nil, initializationErr
	}
	components.Advisor = advisor
	advisor.Warm(ctx)

	// 3. WoZ feed
	var booster suggest.Booster
	if poller := InitializeWoZ(cfg.WoZ(), logger); poller != nil {
		components.WoZ = poller
		booster = poller
		if opts.Poll {
			poller.Start(ctx)
		} else if err := poller.PollOnce(ctx); err != nil {
			logger.Warn("WoZ feed unavailable.", zap.Error(err))
		}
	}

	// 4. Session log
	exp := cfg.Experiment()
	if opts.Session {
		components.Recorder = observability.NewRecorder(cfg.Session(), observability.Session{
			ParticipantID: exp.ParticipantID,
			SessionID:     exp.SessionID,
			ScenarioID:    knowledge.Context.ID(),
			Mode:          strings.ToLower(exp.Mode),
		})
		components.Recorder.Start()
	}
	assistantLogger := observability.WithSession(logger, components.Recorder.Session())

	// 5. Assistant
	kn := cfg.Knowledge()
	sg := cfg.Suggest()
	pr := cfg.Prune()
	components.Assistant = NewAssistant(knowledge, AssistantOptions{
		Assisted: exp.Assisted(),
		Suggest: suggest.Options{
			MinScore:  sg.MinScore,
			TopK:      sg.TopK,
			MoreK:     sg.MoreK,
			CommonIDs: kn.CommonIDs,
			Synergy:   kn.SynergyPairs,
		},
		Prune: prune.Options{
			MaxVisible:            pr.MaxVisible,
			DomainVocabulary:      pr.DomainVocabulary,
			GenericWords:          pr.GenericWords,
			AlternativeCategories: kn.AlternativeCategories,
		},
		PlantChildrenCap: sg.PlantChildrenCap,
		Advisor:          advisor,
		Booster:          booster,
		Recorder:         components.Recorder,
	}, assistantLogger)

	logger.Info("All components initialized successfully.",
		zap.Bool("assisted", exp.Assisted()),
		zap.Bool("semantic", advisor.Enabled()),
		zap.Bool("woz", components.WoZ != nil))
	return components, nil
}
