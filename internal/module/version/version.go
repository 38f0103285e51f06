// Package version tracks the firmware identity of the running module and
// the single update session every other component reads and writes through.
package version

import (
	"sync"
	"time"

	"github.com/robotsgofarming/abls/internal/module/protocol"
	fw "github.com/robotsgofarming/abls/pkg/version"
)

// Session statuses. At most one session is non-Idle at any time.
const (
	StatusIdle        = "Idle"
	StatusDownloading = "Downloading"
	StatusVerifying   = "Verifying"
	StatusFlashing    = "Flashing"
	StatusRebooting   = "Rebooting"
	StatusSuccess     = "Success"
	StatusFailed      = "Failed"
	StatusRollback    = "Rollback"
)

// Stage strings shown to the operator per session status.
var stageNames = map[string]string{
	StatusIdle:        "",
	StatusDownloading: "Downloading firmware",
	StatusVerifying:   "Verifying firmware",
	StatusFlashing:    "Flashing firmware",
	StatusRebooting:   "Rebooting",
	StatusSuccess:     "Update complete",
	StatusFailed:      "Update failed",
	StatusRollback:    "Restoring backup firmware",
}

// Session is the status/progress/error triple of the one update session.
type Session struct {
	Status    string
	Progress  uint8
	Err       error
	StartedAt time.Time
}

// Manager holds the running firmware version and the update session. The
// control loop mutates it, but status packets are also built on the
// diagnostics HTTP server's goroutines, so every access takes the mutex.
type Manager struct {
	current  fw.Version
	senderID uint8
	bootedAt time.Time

	mu      sync.Mutex
	session Session

	packetsSent     uint32
	packetsReceived uint32
}

// NewManager builds the version manager for this build's firmware version.
// senderID identifies the module in status packets.
func NewManager(current fw.Version, senderID uint8) *Manager {
	return &Manager{
		current:  current,
		senderID: senderID,
		bootedAt: time.Now(),
		session:  Session{Status: StatusIdle},
	}
}

// Current returns the firmware version compiled into this binary.
func (m *Manager) Current() fw.Version {
	return m.current
}

// Session returns the current session triple.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Active reports whether an update session is under way.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Status != StatusIdle
}

// SetStatus moves the session to a new status. Entering from Idle stamps the
// start time; progress carries over within a session.
func (m *Manager) SetStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Status == StatusIdle && status != StatusIdle {
		m.session.StartedAt = time.Now()
		m.session.Progress = 0
		m.session.Err = nil
	}
	m.session.Status = status
}

// SetProgress records session progress in percent.
func (m *Manager) SetProgress(pct int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	m.session.Progress = uint8(pct)
}

// SetError records the session error. The error survives Reset into the
// LastError field of status packets until the next session starts.
func (m *Manager) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Err = err
}

// Reset returns the session to Idle, keeping the last error visible.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.Status = StatusIdle
	m.session.Progress = 0
	m.session.StartedAt = time.Time{}
}

// CountSent and CountReceived feed the traffic counters in status packets.
func (m *Manager) CountSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packetsSent++
}

func (m *Manager) CountReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packetsReceived++
}

// moduleStatus maps the session to the coarse status field the operator
// station displays. Callers hold mu.
func (m *Manager) moduleStatus() string {
	switch m.session.Status {
	case StatusIdle, StatusSuccess:
		if m.session.Err != nil {
			return protocol.StatusError
		}
		return protocol.StatusOperational
	case StatusFailed:
		return protocol.StatusError
	default:
		return protocol.StatusUpdating
	}
}

// BuildStatusPacket assembles the status report for a STATUS_QUERY.
// freeMemory is sampled by the caller at send time.
func (m *Manager) BuildStatusPacket(freeMemory uint32) protocol.StatusPacket {
	m.mu.Lock()
	defer m.mu.Unlock()

	lastError := ""
	if m.session.Err != nil {
		lastError = m.session.Err.Error()
	}

	return protocol.StatusPacket{
		SenderID:        m.senderID,
		Timestamp:       uint32(time.Now().Unix()),
		Status:          m.moduleStatus(),
		Version:         m.current.String(),
		UptimeSeconds:   uint32(time.Since(m.bootedAt) / time.Second),
		FreeMemory:      freeMemory,
		UpdateProgress:  m.session.Progress,
		UpdateStage:     stageNames[m.session.Status],
		LastError:       lastError,
		PacketsSent:     m.packetsSent,
		PacketsReceived: m.packetsReceived,
	}
}
