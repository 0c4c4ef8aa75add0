package audio

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func makeCallDir(t *testing.T, base, name string, age time.Duration) string {
	t.Helper()
	p := filepath.Join(base, name)
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", p, err)
	}
	mod := time.Now().Add(-age)
	if err := os.Chtimes(p, mod, mod); err != nil {
		t.Fatalf("chtimes %s: %v", p, err)
	}
	return p
}

func TestSweepRemovesExpiredCalls(t *testing.T) {
	base := t.TempDir()
	old := makeCallDir(t, base, "MZold", 48*time.Hour)
	fresh := makeCallDir(t, base, "MZfresh", time.Minute)

	sweepRecordings(base, 24*time.Hour, 0)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expired call dir survived sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh call dir removed: %v", err)
	}
}

func TestSweepEnforcesMaxCalls(t *testing.T) {
	base := t.TempDir()
	oldest := makeCallDir(t, base, "MZ1", 3*time.Hour)
	middle := makeCallDir(t, base, "MZ2", 2*time.Hour)
	newest := makeCallDir(t, base, "MZ3", time.Hour)

	sweepRecordings(base, 24*time.Hour, 2)

	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Fatalf("oldest call dir should be removed first")
	}
	for _, p := range []string{middle, newest} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("kept call dir removed: %v", err)
		}
	}
}

func TestSweepIgnoresPlainFiles(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "stray.wav")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	mod := time.Now().Add(-48 * time.Hour)
	_ = os.Chtimes(file, mod, mod)

	sweepRecordings(base, 24*time.Hour, 0)

	if _, err := os.Stat(file); err != nil {
		t.Fatalf("plain file removed by sweep: %v", err)
	}
}
