package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/creditwatch/internal/costapi"
	"github.com/theirongolddev/creditwatch/internal/daemon"
	"github.com/theirongolddev/creditwatch/internal/monitor"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "50", want: "50"},
		{in: "12.345", want: "12.345"},
		{in: "0", want: "0"},
		{in: "", wantErr: true},
		{in: "fifty", wantErr: true},
		{in: "-5", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseAmount(%q) = %s, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseAmount(%q): %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("parseAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFriendlyError(t *testing.T) {
	err := friendlyError(fmt.Errorf("fetching page: %w", costapi.ErrUnauthorized))
	if !strings.Contains(err.Error(), "OPENAI_ADMIN_KEY") {
		t.Errorf("unauthorized: %v", err)
	}
	if err := friendlyError(monitor.ErrInvalidAmount); err.Error() != "amount must not be negative" {
		t.Errorf("invalid amount: %v", err)
	}
	other := errors.New("disk full")
	if err := friendlyError(other); err != other {
		t.Errorf("other error rewritten: %v", err)
	}
}

func TestFilterDetachArg(t *testing.T) {
	got := filterDetachArg([]string{"daemon", "--detach", "--addr", ":9000", "--detach=true"})
	want := []string{"daemon", "--addr", ":9000"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creditwatch.pid")
	if err := writePID(path, 4242); err != nil {
		t.Fatal(err)
	}
	pid, err := readPID(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid != 4242 {
		t.Fatalf("pid = %d, want 4242", pid)
	}

	if err := os.WriteFile(path, []byte("garbage\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := readPID(path); err == nil {
		t.Fatal("expected error for invalid pid")
	}
}

func TestEnsureDaemonNotRunningClearsStaleFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creditwatch.pid")
	if err := ensureDaemonNotRunning(path); err != nil {
		t.Fatalf("missing pid file: %v", err)
	}

	// A pid this large is never a live process.
	if err := writePID(path, 1<<22+1); err != nil {
		t.Fatal(err)
	}
	st := daemonRuntimeState{PID: 1<<22 + 1, Addr: "127.0.0.1:8000", StartedAt: time.Now().UTC(), Ledger: "ledger.json"}
	if err := writeState(statePath(path), st); err != nil {
		t.Fatal(err)
	}
	if err := ensureDaemonNotRunning(path); err != nil {
		t.Fatalf("stale pid file: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale pid file left behind")
	}
	if _, err := readState(statePath(path)); !os.IsNotExist(err) {
		t.Error("stale state file left behind")
	}
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	want := daemonRuntimeState{PID: 7, Addr: ":8000", StartedAt: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC), Ledger: "/tmp/ledger.json"}
	if err := writeState(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := readState(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.PID != want.PID || got.Addr != want.Addr || got.Ledger != want.Ledger || !got.StartedAt.Equal(want.StartedAt) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLastChange(t *testing.T) {
	at := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	ev := &daemon.Event{
		Type:      daemon.EventBalance,
		Timestamp: at,
		Snapshot:  daemon.Snapshot{Balance: "42.50"},
		Delta:     daemon.Delta{Balance: "-3.25"},
	}
	got := lastChange(ev)
	if !strings.HasPrefix(got, "-$3.25 balance (balance_delta)") {
		t.Fatalf("lastChange = %q", got)
	}
	if lastChange(nil) != "" {
		t.Error("nil event should describe nothing")
	}
	if lastChange(&daemon.Event{Type: daemon.EventSnapshot}) != "" {
		t.Error("snapshot event should describe nothing")
	}
}
