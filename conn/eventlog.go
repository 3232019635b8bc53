package conn

import (
	"sync"

	"golang.org/x/net/trace"
)

// eventLog is a trace.EventLog that drops entries once finished. x/net/trace
// recycles finished logs, and a Send or Close may still log after Run has
// returned.
type eventLog struct {
	mu       sync.Mutex
	ev       trace.EventLog
	finished bool
}

func newEventLog(family, title string) *eventLog {
	return &eventLog{ev: trace.NewEventLog(family, title)}
}

func (l *eventLog) Printf(format string, a ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.finished {
		l.ev.Printf(format, a...)
	}
}

func (l *eventLog) Errorf(format string, a ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.finished {
		l.ev.Errorf(format, a...)
	}
}

// Finish finishes the underlying log. Calls after the first do nothing.
func (l *eventLog) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.finished {
		l.finished = true
		l.ev.Finish()
	}
}
