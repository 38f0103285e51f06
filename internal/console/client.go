// Package console is the operator side of the update protocol: it sends
// command packets to a module and collects the status replies, and stages
// firmware images in the artifact store.
package console

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/robotsgofarming/abls/internal/module/protocol"
	fw "github.com/robotsgofarming/abls/pkg/version"
)

// Client talks the fixed-layout UDP protocol to one module.
type Client struct {
	// ModuleAddr is the module's IP address.
	ModuleAddr string

	// CommandPort is the module's command port.
	CommandPort int

	// StatusPort is the local port status replies arrive on. The module must
	// be configured with this console's address as its operator address.
	StatusPort int

	// Timeout bounds the wait for a status reply.
	Timeout time.Duration
}

// roundTrip sends one command and waits for the next status packet.
func (c *Client) roundTrip(pkt protocol.CommandPacket) (protocol.StatusPacket, error) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{Port: c.StatusPort})
	if err != nil {
		return protocol.StatusPacket{}, fmt.Errorf("status socket: %w", err)
	}
	defer listener.Close()

	pkt.Timestamp = uint32(time.Now().Unix())
	data, err := pkt.MarshalBinary()
	if err != nil {
		return protocol.StatusPacket{}, err
	}

	conn, err := net.Dial("udp", net.JoinHostPort(c.ModuleAddr, strconv.Itoa(c.CommandPort)))
	if err != nil {
		return protocol.StatusPacket{}, fmt.Errorf("command socket: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		return protocol.StatusPacket{}, fmt.Errorf("send command: %w", err)
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	listener.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, protocol.StatusPacketSize*2)
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		return protocol.StatusPacket{}, fmt.Errorf("no status reply: %w", err)
	}
	return protocol.UnmarshalStatus(buf[:n])
}

// Query asks the module for its status.
func (c *Client) Query() (protocol.StatusPacket, error) {
	return c.roundTrip(protocol.CommandPacket{Command: protocol.CmdStatusQuery})
}

// StartUpdate commands the module to update to the image at url.
func (c *Client) StartUpdate(url, sha256Hex string, size uint32, v fw.Version) (protocol.StatusPacket, error) {
	return c.roundTrip(protocol.CommandPacket{
		Command:      protocol.CmdStartUpdate,
		FirmwareURL:  url,
		FirmwareHash: sha256Hex,
		FirmwareSize: size,
		VersionMajor: v.Major,
		VersionMinor: v.Minor,
		VersionPatch: v.Patch,
	})
}

// Abort asks the module to stop the running update at the next safe point.
func (c *Client) Abort() (protocol.StatusPacket, error) {
	return c.roundTrip(protocol.CommandPacket{Command: protocol.CmdAbortUpdate})
}

// Rollback commands the module to restore its backup firmware.
func (c *Client) Rollback() (protocol.StatusPacket, error) {
	return c.roundTrip(protocol.CommandPacket{Command: protocol.CmdRollback})
}
