package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestNewAuditLoggerCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewAuditLogger(path)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("audit log file was not created: %v", err)
	}
}

func TestNewAuditLoggerAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	if err := os.WriteFile(path, []byte("previous session\n"), 0644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	logger, err := NewAuditLogger(path)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	logger.LogWrite("mqtt:line1", "Press1", "Setpoint", nil)
	logger.Close()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if !strings.Contains(string(content), "previous session") {
		t.Error("existing content was overwritten on open")
	}
	if !strings.Contains(string(content), "result=ok") {
		t.Errorf("expected a success record, got: %s", content)
	}
}

func TestNewAuditLoggerRejectsBadPath(t *testing.T) {
	if _, err := NewAuditLogger("/nonexistent/directory/audit.log"); err == nil {
		t.Fatal("expected an error opening a path in a missing directory")
	}
}

func TestAuditLoggerLogWriteRecordsSourcePlcTag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewAuditLogger(path)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	defer logger.Close()

	logger.LogWrite("valkey:cell2", "Press2", "Counter", nil)

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	line := string(content)
	for _, want := range []string{"source=valkey:cell2", "plc=Press2", "tag=Counter", "result=ok"} {
		if !strings.Contains(line, want) {
			t.Errorf("record %q missing %q", line, want)
		}
	}
}

func TestAuditLoggerLogWriteRecordsFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewAuditLogger(path)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	defer logger.Close()

	logger.LogWrite("mqtt:line1", "Press1", "BadTag", errors.New("tag does not exist"))

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if !strings.Contains(string(content), "result=failed") || !strings.Contains(string(content), "tag does not exist") {
		t.Errorf("expected a failure record with the error text, got: %s", content)
	}
}

func TestAuditLoggerCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewAuditLogger(path)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestAuditLoggerDiscardsWritesAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewAuditLogger(path)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	logger.Close()
	logger.LogWrite("mqtt:line1", "Press1", "Setpoint", nil)

	content, _ := os.ReadFile(path)
	if strings.Contains(string(content), "Setpoint") {
		t.Error("record written after Close")
	}
}

func TestAuditLoggerConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewAuditLogger(path)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.LogWrite("mqtt:line1", "Press1", "Counter", nil)
		}(i)
	}
	wg.Wait()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != 100 {
		t.Errorf("expected 100 records, got %d", len(lines))
	}
}
