// File: internal/service/components.go
package service

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/internal/observability"
	"github.com/xkilldash9x/arborist/internal/semantic"
	"github.com/xkilldash9x/arborist/internal/woz"
)

// Components holds everything a session needs and owns its lifecycle.
type Components struct {
	Knowledge *Knowledge
	Advisor   *semantic.Advisor
	WoZ       *woz.Poller
	Recorder  *observability.Recorder
	Assistant *Assistant

	logger *zap.Logger
}

// Shutdown stops background work in order: the feed poller, then in-flight
// oracle queries, then the session log.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	if c.WoZ != nil {
		c.WoZ.Stop()
		logger.Debug("WoZ poller stopped.")
	}
	c.Advisor.Wait()

	if err := c.Recorder.Close(); err != nil {
		logger.Warn("Error closing the session log.", zap.Error(err))
	}
	logger.Info("All components shut down.")
}
