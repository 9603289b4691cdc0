package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// AuditLogger records write-back activity: every tag write a publisher
// asks the gateway to perform, and whether the PLC accepted it. It is
// deliberately separate from DebugLogger — debug logging is a
// troubleshooting firehose meant to be turned on for a session and
// thrown away, while the audit trail is an append-only record of who
// changed what that operators may want to keep.
type AuditLogger struct {
	file   *os.File
	mu     sync.Mutex
	closed bool
}

// NewAuditLogger opens path for appending, creating it if necessary.
// Unlike the debug log, an audit log is never truncated on startup.
func NewAuditLogger(path string) (*AuditLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &AuditLogger{file: file}, nil
}

// LogWrite appends one audit record for a write-back request. err is the
// outcome of actually issuing the write against the PLC, not the
// publisher-side decision to request it.
func (l *AuditLogger) LogWrite(source, plcName, tagName string, err error) {
	if err != nil {
		l.record("WRITE source=%s plc=%s tag=%s result=failed error=%v", source, plcName, tagName, err)
		return
	}
	l.record("WRITE source=%s plc=%s tag=%s result=ok", source, plcName, tagName)
}

func (l *AuditLogger) record(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	fmt.Fprintf(l.file, "%s %s\n", time.Now().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
}

// Close flushes and closes the underlying file. Safe to call more than
// once.
func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}
