package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/calumnguyen/seo-crawler-sub001/internal/seo"
)

// AutoStopSweep stops audits that have sat paused for longer than the
// auto-stop timeout. The transition is the ordinary terminal stop: queue
// jobs are dropped and diagnostic logs discarded. Returns the IDs stopped.
func (m *Manager) AutoStopSweep(ctx context.Context) ([]string, error) {
	audits, err := m.store.ListAuditsByStatus(ctx, seo.AuditStatusPaused)
	if err != nil {
		return nil, fmt.Errorf("list paused audits: %w", err)
	}
	now := m.clock.Now()

	var stopped []string
	for _, audit := range audits {
		if audit.PausedAt == nil {
			m.logger.Warn("paused audit without paused_at", zap.String("audit_id", audit.ID))
			continue
		}
		if now.Sub(*audit.PausedAt) < m.cfg.AutoStopAfter {
			continue
		}

		m.mu.Lock()
		err := m.stopLocked(ctx, audit.ID)
		m.mu.Unlock()
		if err != nil {
			m.logger.Error("auto-stop", zap.String("audit_id", audit.ID), zap.Error(err))
			continue
		}
		m.logger.Info("audit auto-stopped after pause timeout",
			zap.String("audit_id", audit.ID),
			zap.Duration("paused_for", now.Sub(*audit.PausedAt)))
		stopped = append(stopped, audit.ID)
	}
	return stopped, nil
}
