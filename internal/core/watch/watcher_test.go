package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Stop()

	if w == nil {
		t.Fatal("watcher should not be nil")
	}
	if w.watchPath != tmpDir {
		t.Errorf("expected watchPath %q, got %q", tmpDir, w.watchPath)
	}
	if w.debounceMap == nil {
		t.Error("debounceMap should be initialized")
	}
}

func TestWatcherStart(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func TestWatcherStop(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	w.Start()
	w.Stop()

	// Should not panic on double stop.
	w.Stop()
}

func TestWatcherCallback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping watcher test in short mode")
	}

	tmpDir := t.TempDir()

	w, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Stop()

	detected := make(chan string, 1)
	w.OnNewFile = func(path string) {
		detected <- path
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mkvPath := filepath.Join(tmpDir, "test.mkv")
	if err := os.WriteFile(mkvPath, []byte("fake mkv content"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case path := <-detected:
		if path != mkvPath {
			t.Errorf("expected path %q, got %q", mkvPath, path)
		}
	case <-time.After(10 * time.Second):
		t.Error("timeout waiting for file detection")
	}
}

func TestWatcherDetectsAllVideoExtensions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping watcher test in short mode")
	}

	tmpDir := t.TempDir()

	w, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Stop()

	detected := make(chan string, 1)
	w.OnNewFile = func(path string) {
		detected <- path
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mp4Path := filepath.Join(tmpDir, "test.mp4")
	if err := os.WriteFile(mp4Path, []byte("fake mp4 content"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case path := <-detected:
		if path != mp4Path {
			t.Errorf("expected path %q, got %q", mp4Path, path)
		}
	case <-time.After(10 * time.Second):
		t.Error("timeout waiting for file detection")
	}
}

func TestWatcherIgnoresNonVideoFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping watcher test in short mode")
	}

	tmpDir := t.TempDir()

	w, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Stop()

	detected := make(chan string, 1)
	w.OnNewFile = func(path string) {
		detected <- path
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	txtPath := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(txtPath, []byte("text content"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case path := <-detected:
		t.Errorf("should not detect non-video file: %s", path)
	case <-time.After(1 * time.Second):
		// Expected - no detection.
	}
}

func TestWatcherErrorCallbackIsSet(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := New(tmpDir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Stop()

	errorReceived := make(chan error, 1)
	w.OnError = func(err error) {
		errorReceived <- err
	}

	if w.OnError == nil {
		t.Error("OnError should be set")
	}
}

func TestWatchDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	w, err := WatchDirectory(tmpDir, func(path string) {})
	if err != nil {
		t.Fatalf("WatchDirectory failed: %v", err)
	}
	defer w.Stop()

	if w.OnNewFile == nil {
		t.Error("OnNewFile callback should be set")
	}
}

func TestScanExisting(t *testing.T) {
	tmpDir := t.TempDir()

	for i := 0; i < 3; i++ {
		mkvPath := filepath.Join(tmpDir, "video"+string(rune('0'+i))+".mkv")
		if err := os.WriteFile(mkvPath, []byte("fake"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	mp4Path := filepath.Join(tmpDir, "extra.mp4")
	if err := os.WriteFile(mp4Path, []byte("fake"), 0644); err != nil {
		t.Fatal(err)
	}
	txtPath := filepath.Join(tmpDir, "readme.txt")
	if err := os.WriteFile(txtPath, []byte("text"), 0644); err != nil {
		t.Fatal(err)
	}

	matches, err := ScanExisting(tmpDir)
	if err != nil {
		t.Fatalf("ScanExisting failed: %v", err)
	}

	if len(matches) != 4 {
		t.Errorf("expected 4 video files, got %d", len(matches))
	}
}

func TestScanExistingEmpty(t *testing.T) {
	tmpDir := t.TempDir()

	matches, err := ScanExisting(tmpDir)
	if err != nil {
		t.Fatalf("ScanExisting failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected 0 files, got %d", len(matches))
	}
}

func TestIsFileReady(t *testing.T) {
	tmpDir := t.TempDir()

	filePath := filepath.Join(tmpDir, "test.mkv")
	if err := os.WriteFile(filePath, []byte("complete file content"), 0644); err != nil {
		t.Fatal(err)
	}

	if !isFileReady(filePath) {
		t.Error("file should be ready")
	}
}

func TestIsFileReadyNonExistent(t *testing.T) {
	tmpDir := t.TempDir()

	if isFileReady(filepath.Join(tmpDir, "nonexistent.mkv")) {
		t.Error("non-existent file should not be ready")
	}
}

func TestIsFileReadyEmptyFile(t *testing.T) {
	tmpDir := t.TempDir()

	filePath := filepath.Join(tmpDir, "empty.mkv")
	if err := os.WriteFile(filePath, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	if isFileReady(filePath) {
		t.Error("empty file should not be ready")
	}
}
