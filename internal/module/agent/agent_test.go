package agent

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/robotsgofarming/abls/internal/module/hal"
	"github.com/robotsgofarming/abls/internal/module/protocol"
	"github.com/robotsgofarming/abls/pkg/options"
)

// startAgent runs a full agent against loopback sockets and returns the
// command port and the operator-side socket status packets arrive on.
func startAgent(t *testing.T) (*Agent, int, *net.UDPConn) {
	t.Helper()

	operator, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("operator socket: %v", err)
	}
	t.Cleanup(func() { operator.Close() })

	cfg := &Config{
		Role:     hal.RoleLeft,
		SenderID: 1,
		UdpOptions: &options.UdpOptions{
			CommandPort:  0,
			StatusPort:   operator.LocalAddr().(*net.UDPAddr).Port,
			OperatorAddr: "127.0.0.1",
		},
		HttpOptions:   &options.HttpOptions{Addr: "127.0.0.1:0", Timeout: 5 * time.Second},
		MqttOptions:   options.NewMqttOptions(),
		SafetyOptions: options.NewSafetyOptions(),
	}

	a, err := cfg.NewAgent()
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for a.CommandPort() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if a.CommandPort() == 0 {
		t.Fatal("agent never bound its command socket")
	}
	return a, a.CommandPort(), operator
}

func sendCommand(t *testing.T, port int, pkt protocol.CommandPacket) {
	t.Helper()
	data, err := pkt.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readStatus(t *testing.T, operator *net.UDPConn) protocol.StatusPacket {
	t.Helper()
	operator.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, protocol.StatusPacketSize*2)
	n, _, err := operator.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("operator read: %v", err)
	}
	p, err := protocol.UnmarshalStatus(buf[:n])
	if err != nil {
		t.Fatalf("UnmarshalStatus: %v", err)
	}
	return p
}

func TestStatusQueryAnswered(t *testing.T) {
	_, port, operator := startAgent(t)

	sendCommand(t, port, protocol.CommandPacket{Command: protocol.CmdStatusQuery})

	p := readStatus(t, operator)
	if p.Status != protocol.StatusOperational {
		t.Fatalf("status = %s, want %s", p.Status, protocol.StatusOperational)
	}
	if p.SenderID != 1 {
		t.Fatalf("sender = %d, want 1", p.SenderID)
	}
	if p.UpdateProgress != 0 {
		t.Fatalf("progress = %d, want 0", p.UpdateProgress)
	}
}

func TestInvalidStartUpdateReported(t *testing.T) {
	_, port, operator := startAgent(t)

	// Zero size must be rejected before any flash work, and the failure is
	// visible on the next status.
	sendCommand(t, port, protocol.CommandPacket{
		Command:      protocol.CmdStartUpdate,
		FirmwareURL:  "http://10.0.0.5:8080/fw.bin",
		FirmwareHash: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
		FirmwareSize: 0,
	})

	p := readStatus(t, operator)
	if p.Status != protocol.StatusError {
		t.Fatalf("status = %s, want %s", p.Status, protocol.StatusError)
	}
	if p.LastError == "" {
		t.Fatal("rejected update left no error message")
	}
}

func TestMalformedDatagramIgnored(t *testing.T) {
	_, port, operator := startAgent(t)

	conn, err := net.Dial("udp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Write(make([]byte, 17))
	conn.Close()

	// The agent still answers a well-formed query afterwards.
	sendCommand(t, port, protocol.CommandPacket{Command: protocol.CmdStatusQuery})
	p := readStatus(t, operator)
	if p.Status != protocol.StatusOperational {
		t.Fatalf("status = %s, want %s", p.Status, protocol.StatusOperational)
	}
}

func TestAbortAcknowledged(t *testing.T) {
	_, port, operator := startAgent(t)

	sendCommand(t, port, protocol.CommandPacket{Command: protocol.CmdAbortUpdate})
	p := readStatus(t, operator)
	if p.Status != protocol.StatusOperational {
		t.Fatalf("status = %s, want %s", p.Status, protocol.StatusOperational)
	}
}
