package targets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte("targets:\n  - metric: urr\n    min: 65\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(initial)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, store, zerolog.Nop()) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("targets:\n  - metric: urr\n    min: 75\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if store.Evaluate(MetricURR, ok(70)) == StatusLow {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := store.Evaluate(MetricURR, ok(70)); got != StatusLow {
		t.Errorf("expected reloaded target, got %s", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch did not stop after cancel")
	}
}

// Editors commonly save by writing a sibling file and renaming it over the
// original. Reloads must keep working across repeated saves of that kind.
func TestWatch_ReloadsOnRenameOver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.yaml")
	if err := os.WriteFile(path, []byte("targets:\n  - metric: urr\n    min: 65\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(initial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = Watch(ctx, path, store, zerolog.Nop()) }()
	time.Sleep(100 * time.Millisecond)

	save := func(minURR string) {
		tmp := filepath.Join(dir, ".targets.yaml.tmp")
		if err := os.WriteFile(tmp, []byte("targets:\n  - metric: urr\n    min: "+minURR+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(tmp, path); err != nil {
			t.Fatal(err)
		}
	}
	waitFor := func(want Status) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if store.Evaluate(MetricURR, ok(70)) == want {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		t.Fatalf("urr 70 = %s, want %s", store.Evaluate(MetricURR, ok(70)), want)
	}

	save("75")
	waitFor(StatusLow)
	save("60")
	waitFor(StatusInRange)
}

func TestWatch_MissingFile(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), NewStore(nil), zerolog.Nop())
	if err == nil {
		t.Error("expected error watching a missing file")
	}
}
