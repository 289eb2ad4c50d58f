package logger

import (
	"sync"
	"time"
)

const (
	minIntervalBetweenWarnings = 1 * time.Second
)

type limitedLogger struct {
	w           Writer
	timeNow     func() time.Time
	mutex       sync.Mutex
	lastPrinted time.Time
}

// NewLimitedLogger is a wrapper around a Writer that limits printed messages.
func NewLimitedLogger(w Writer) Writer {
	return &limitedLogger{
		w:       w,
		timeNow: time.Now,
	}
}

func (l *limitedLogger) Log(level Level, format string, args ...interface{}) {
	now := l.timeNow()

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if now.Sub(l.lastPrinted) >= minIntervalBetweenWarnings {
		l.lastPrinted = now
		l.w.Log(level, format, args...)
	}
}
