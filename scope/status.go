package scope

import (
	"context"
	"maps"
	"time"

	"go.uber.org/zap"
)

// pollStatus reads the status reader every interval and publishes the
// result under the UI lock. It never touches transform buffers. It returns
// when ctx is done or the capture loop has exited.
func (s *Session) pollStatus(ctx context.Context, loopDone <-chan struct{}) error {
	ticker := time.NewTicker(s.cfg.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-loopDone:
			return nil
		case <-ticker.C:
		}

		st, err := s.cfg.status.ReadStatus(ctx)
		if err != nil {
			s.log.Debug("status read failed", zap.Error(err))
			continue
		}

		s.ui.Lock()
		s.status = st
		for _, fn := range s.cfg.onStatus {
			fn(st)
		}
		s.ui.Unlock()
	}
}

// Status returns a copy of the last published status.
func (s *Session) Status() Status {
	s.ui.Lock()
	defer s.ui.Unlock()
	return maps.Clone(s.status)
}
