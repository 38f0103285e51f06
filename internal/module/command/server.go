// Package command is the network edge of the update subsystem: it receives
// fixed-layout command datagrams, rejects anything malformed at the socket,
// and hands well-formed packets to the control loop. It never acts on a
// command itself.
package command

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/robotsgofarming/abls/internal/module/metrics"
	"github.com/robotsgofarming/abls/internal/module/protocol"
	"github.com/robotsgofarming/abls/pkg/log"
	"github.com/robotsgofarming/abls/pkg/options"
)

// Server owns the command socket and the path back to the operator console.
type Server struct {
	opts *options.UdpOptions

	commands chan protocol.CommandPacket

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewServer builds the command server. Commands are delivered on Commands();
// the channel is small and a flooded socket drops packets rather than
// backing up into the kernel.
func NewServer(opts *options.UdpOptions) *Server {
	return &Server{
		opts:     opts,
		commands: make(chan protocol.CommandPacket, 8),
	}
}

// Commands delivers parsed command packets to the control loop.
func (s *Server) Commands() <-chan protocol.CommandPacket {
	return s.commands
}

// LocalPort returns the bound command port, which differs from the
// configured one when it was 0.
func (s *Server) LocalPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return 0
	}
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Run listens for command datagrams until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.opts.CommandPort})
	if err != nil {
		return fmt.Errorf("command socket: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	log.Info("Command server listening", "port", conn.LocalAddr().(*net.UDPAddr).Port)

	buf := make([]byte, protocol.CommandPacketSize*2)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("command socket read: %w", err)
		}

		pkt, err := protocol.UnmarshalCommand(buf[:n])
		if err != nil {
			metrics.DatagramsRejectedTotal.Inc()
			log.Warn("Discarding malformed command datagram", "from", raddr.String(), "err", err)
			continue
		}

		metrics.CommandsReceivedTotal.WithLabelValues(pkt.Command).Inc()
		select {
		case s.commands <- pkt:
		default:
			log.Warn("Command queue full, dropping packet", "command", pkt.Command, "from", raddr.String())
		}
	}
}

// SendStatus transmits a status packet to the operator console.
func (s *Server) SendStatus(p protocol.StatusPacket) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("command server not running")
	}

	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}

	ip := net.ParseIP(s.opts.OperatorAddr)
	if ip == nil {
		return fmt.Errorf("invalid operator address %q", s.opts.OperatorAddr)
	}
	_, err = conn.WriteToUDP(data, &net.UDPAddr{IP: ip, Port: s.opts.StatusPort})
	return err
}
