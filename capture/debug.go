package capture

import (
	"log/slog"
	"sync/atomic"
	"time"

	"agentstudio.dev/deskrec/internal/logging"
)

const rateLogPeriod = time.Second

func captureLogger(l *slog.Logger) *slog.Logger {
	return logging.Or(l, "capture")
}

func captureShouldLog(last *atomic.Int64) bool {
	return logging.ShouldLog(last, rateLogPeriod)
}
