package version

import (
	"errors"
	"sync"
	"testing"

	"github.com/robotsgofarming/abls/internal/module/protocol"
	fw "github.com/robotsgofarming/abls/pkg/version"
)

var testVersion = fw.Version{Major: 2, Minor: 1, Patch: 3, Build: 47}

func TestSessionLifecycle(t *testing.T) {
	m := NewManager(testVersion, 3)

	if m.Active() {
		t.Fatal("fresh manager reports an active session")
	}

	m.SetStatus(StatusDownloading)
	if !m.Active() {
		t.Fatal("session not active after SetStatus")
	}
	if m.Session().StartedAt.IsZero() {
		t.Fatal("start time not stamped on session start")
	}

	m.SetProgress(50)
	m.SetStatus(StatusFlashing)
	if got := m.Session().Progress; got != 50 {
		t.Fatalf("progress after status change = %d, want 50", got)
	}

	m.Reset()
	if m.Active() {
		t.Fatal("session still active after Reset")
	}
}

func TestProgressClamped(t *testing.T) {
	m := NewManager(testVersion, 1)
	m.SetProgress(150)
	if got := m.Session().Progress; got != 100 {
		t.Fatalf("progress = %d, want clamped to 100", got)
	}
	m.SetProgress(-3)
	if got := m.Session().Progress; got != 0 {
		t.Fatalf("progress = %d, want clamped to 0", got)
	}
}

func TestBuildStatusPacket(t *testing.T) {
	m := NewManager(testVersion, 3)

	p := m.BuildStatusPacket(262144)
	if p.Status != protocol.StatusOperational {
		t.Fatalf("idle status = %s, want %s", p.Status, protocol.StatusOperational)
	}
	if p.Version != "2.1.3+47" {
		t.Fatalf("version = %s, want 2.1.3+47", p.Version)
	}
	if p.SenderID != 3 {
		t.Fatalf("sender = %d, want 3", p.SenderID)
	}

	m.SetStatus(StatusFlashing)
	m.SetProgress(50)
	p = m.BuildStatusPacket(0)
	if p.Status != protocol.StatusUpdating {
		t.Fatalf("flashing status = %s, want %s", p.Status, protocol.StatusUpdating)
	}
	if p.UpdateStage != "Flashing firmware" {
		t.Fatalf("stage = %q, want %q", p.UpdateStage, "Flashing firmware")
	}
	if p.UpdateProgress != 50 {
		t.Fatalf("progress = %d, want 50", p.UpdateProgress)
	}
}

func TestErrorSurvivesReset(t *testing.T) {
	m := NewManager(testVersion, 1)

	m.SetStatus(StatusDownloading)
	m.SetError(errors.New("download timeout"))
	m.SetStatus(StatusFailed)

	p := m.BuildStatusPacket(0)
	if p.Status != protocol.StatusError {
		t.Fatalf("failed status = %s, want %s", p.Status, protocol.StatusError)
	}

	m.Reset()
	p = m.BuildStatusPacket(0)
	if p.Status != protocol.StatusError {
		t.Fatalf("status after reset = %s, want %s until next session", p.Status, protocol.StatusError)
	}
	if p.LastError != "download timeout" {
		t.Fatalf("last error = %q, want preserved message", p.LastError)
	}

	// A new session clears the old failure.
	m.SetStatus(StatusDownloading)
	p = m.BuildStatusPacket(0)
	if p.LastError != "" {
		t.Fatalf("last error = %q, want cleared on new session", p.LastError)
	}
}

func TestTrafficCounters(t *testing.T) {
	m := NewManager(testVersion, 1)
	m.CountReceived()
	m.CountReceived()
	m.CountSent()

	p := m.BuildStatusPacket(0)
	if p.PacketsReceived != 2 || p.PacketsSent != 1 {
		t.Fatalf("counters = sent %d received %d, want 1/2", p.PacketsSent, p.PacketsReceived)
	}
}

func TestConcurrentStatusAccess(t *testing.T) {
	m := NewManager(testVersion, 3)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			m.SetStatus(StatusDownloading)
			m.SetProgress(i % 101)
			m.SetError(nil)
			m.CountSent()
			m.Reset()
		}
	}()

	// Status packets are built on the HTTP server's goroutines while the
	// control loop mutates the session.
	for i := 0; i < 2000; i++ {
		p := m.BuildStatusPacket(0)
		if p.SenderID != 3 {
			t.Fatalf("sender = %d, want 3", p.SenderID)
		}
		_ = m.Session()
		_ = m.Active()
	}
	close(stop)
	wg.Wait()
}
