package scheduler

import (
	"errors"
	"time"

	logx "crontrolhours/pkg/logx"
)

const handlerErrWarnEvery = 30 * time.Second

// reportHandlerError logs handler failures, throttled per hook so a job failing on
// every tick doesn't flood the log.
func (s *Service) reportHandlerError(hook string, err error) {
	if err == nil {
		return
	}
	now := time.Now()

	s.errMu.Lock()
	last := s.lastErrWarn[hook]
	if !last.IsZero() && now.Sub(last) < handlerErrWarnEvery {
		s.errMu.Unlock()
		s.log.Debug("handler failed (throttled)", logx.String("hook", hook), logx.Err(err))
		return
	}
	s.lastErrWarn[hook] = now
	s.errMu.Unlock()

	if errors.Is(err, errHandlerPanic) {
		s.log.Error("handler panicked", logx.String("hook", hook), logx.Err(err))
		return
	}
	s.log.Warn("handler failed", logx.String("hook", hook), logx.Err(err))
}
