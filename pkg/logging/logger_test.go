package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// setupTestDir points logging at a temporary directory and resets global state
func setupTestDir(t *testing.T) string {
	t.Helper()

	tempDir := t.TempDir()

	origLogDir := logDir
	origSessionID := sessionID

	SetDirectory(tempDir)
	sessionID = ""
	sessionIDOnce = sync.Once{}

	t.Cleanup(func() {
		_ = CloseAll()
		SetDirectory(origLogDir)
		sessionID = origSessionID
		sessionIDOnce = sync.Once{}
	})
	return tempDir
}

func TestNewLogger_OpensFileOnFirstWrite(t *testing.T) {
	dir := setupTestDir(t)

	logger := NewLogger("test-component")
	defer logger.Close()

	if logger.component != "test-component" {
		t.Errorf("Expected component 'test-component', got %q", logger.component)
	}
	if logger.sessionID == "" {
		t.Error("Expected non-empty session ID")
	}
	if logger.LogPath() != "" {
		t.Errorf("Expected no log path before first write, got %q", logger.LogPath())
	}

	logger.Infof("hello")

	path := logger.LogPath()
	if filepath.Dir(path) != dir {
		t.Errorf("Expected log under %s, got %s", dir, path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Log file does not exist at %s", path)
	}
}

func TestLoggerFormatting(t *testing.T) {
	setupTestDir(t)

	logger := NewLogger("test")
	defer logger.Close()

	logger.Printf("Test message %d", 123)
	logger.Debugf("Debug message")
	logger.Infof("Info message")
	logger.Warnf("Warning message")
	logger.Errorf("Error message")

	content, err := os.ReadFile(logger.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	logContent := string(content)

	expectedPatterns := []string{
		"[test] [INFO] Test message 123",
		"[test] [DEBUG] Debug message",
		"[test] [INFO] Info message",
		"[test] [WARN] Warning message",
		"[test] [ERROR] Error message",
	}

	for _, pattern := range expectedPatterns {
		if !strings.Contains(logContent, pattern) {
			t.Errorf("Log content missing expected pattern: %q\nContent:\n%s", pattern, logContent)
		}
	}
}

func TestMultipleComponents(t *testing.T) {
	setupTestDir(t)

	logger1 := NewLogger("component1")
	logger2 := NewLogger("component2")

	if logger1.sessionID != logger2.sessionID {
		t.Errorf("Expected same session ID, got %q and %q", logger1.sessionID, logger2.sessionID)
	}

	logger1.Printf("Message from component1")
	logger2.Printf("Message from component2")

	if logger1.LogPath() != logger2.LogPath() {
		t.Errorf("Expected same log path, got %q and %q", logger1.LogPath(), logger2.LogPath())
	}

	content, err := os.ReadFile(logger1.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	logContent := string(content)
	if !strings.Contains(logContent, "[component1]") {
		t.Error("Log missing component1 entries")
	}
	if !strings.Contains(logContent, "[component2]") {
		t.Error("Log missing component2 entries")
	}
}

func TestGetSessionID(t *testing.T) {
	setupTestDir(t)

	id1 := GetSessionID()
	id2 := GetSessionID()

	if id1 != id2 {
		t.Errorf("Expected consistent session ID, got %q and %q", id1, id2)
	}
	if id1 == "" {
		t.Error("Expected non-empty session ID")
	}
}

func TestLoggerClose(t *testing.T) {
	setupTestDir(t)

	logger := NewLogger("test")
	logger.Infof("before close")

	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}

	// Writing after close reopens in append mode
	logger.Infof("after close")
	content, err := os.ReadFile(logger.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "before close") || !strings.Contains(string(content), "after close") {
		t.Errorf("Expected both entries in log, got:\n%s", content)
	}
}

func TestLogPathFormat(t *testing.T) {
	setupTestDir(t)

	logger := NewLogger("test")
	defer logger.Close()
	logger.Infof("x")

	fileName := filepath.Base(logger.LogPath())
	if !strings.HasSuffix(fileName, "-courier.log") {
		t.Errorf("Expected log file to end with '-courier.log', got %q", fileName)
	}

	sessionPart := strings.TrimSuffix(fileName, "-courier.log")
	if !strings.Contains(sessionPart, "-") {
		t.Errorf("Expected session ID part to contain dashes (UUID format), got %q", sessionPart)
	}
}
