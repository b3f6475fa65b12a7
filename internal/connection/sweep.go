package connection

import (
	"context"

	"github.com/giftflare/service_layer/internal/metrics"
)

// sweep checks the extra tables after a successful probe. Results are logged
// and recorded but never change the phase. A sweep whose epoch has been
// superseded keeps its logs but does not overwrite the recorded tables.
func (m *Monitor) sweep(epoch uint64) {
	if len(m.cfg.SweepTables) == 0 {
		return
	}

	results := make(map[string]bool, len(m.cfg.SweepTables))
	for _, table := range m.cfg.SweepTables {
		if m.ctx.Err() != nil {
			return
		}

		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ProbeTimeout)
		err := m.safely(func() error {
			_, err := m.backend.Count(ctx, table)
			return err
		})
		cancel()

		results[table] = err == nil
		metrics.SetTableAccessible(table, err == nil)
		if err != nil {
			m.log.WithField("table", table).WithError(err).Warn("table not accessible")
			continue
		}
		m.log.WithField("table", table).Debug("table accessible")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || epoch != m.epoch {
		return
	}
	m.tables = results
	m.publishLocked()
}
