// Package protocol encodes and decodes the fixed-layout binary datagrams
// exchanged with the operator station. All integers are little-endian and
// every string field has a fixed width; a datagram that is not exactly the
// expected size is rejected outright, never partially parsed.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Commands accepted on the command port.
const (
	CmdStatusQuery = "STATUS_QUERY"
	CmdStartUpdate = "START_UPDATE"
	CmdAbortUpdate = "ABORT_UPDATE"
	CmdRollback    = "ROLLBACK_UPDATE"
)

// Module statuses reported on the status port.
const (
	StatusOperational = "OPERATIONAL"
	StatusUpdating    = "UPDATING"
	StatusError       = "ERROR"
	StatusOffline     = "OFFLINE"
)

// Field widths of the command packet.
const (
	commandWidth = 32
	urlWidth     = 256
	hashWidth    = 65
)

// Field widths of the status packet.
const (
	statusWidth    = 32
	versionWidth   = 32
	stageWidth     = 64
	lastErrorWidth = 128
)

// CommandPacketSize is the exact on-wire size of a command datagram.
const CommandPacketSize = commandWidth + 4 + urlWidth + hashWidth + 4 + 2 + 2 + 2

// StatusPacketSize is the exact on-wire size of a status datagram.
const StatusPacketSize = 1 + 4 + statusWidth + versionWidth + 4 + 4 + 1 + stageWidth + lastErrorWidth + 4 + 4

// ErrBadLength reports a datagram whose size does not match the layout.
type ErrBadLength struct {
	Got  int
	Want int
}

func (e *ErrBadLength) Error() string {
	return fmt.Sprintf("protocol: datagram of %d bytes, layout is %d", e.Got, e.Want)
}

// CommandPacket is an operator command.
type CommandPacket struct {
	Command      string
	Timestamp    uint32
	FirmwareURL  string
	FirmwareHash string
	FirmwareSize uint32
	VersionMajor uint16
	VersionMinor uint16
	VersionPatch uint16
}

// MarshalBinary renders the packet in wire layout. Over-wide string fields
// are an error on the sending side; the receiver would truncate them.
func (p *CommandPacket) MarshalBinary() ([]byte, error) {
	out := make([]byte, CommandPacketSize)

	off := 0
	if err := putCString(out[off:off+commandWidth], p.Command); err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	off += commandWidth
	binary.LittleEndian.PutUint32(out[off:], p.Timestamp)
	off += 4
	if err := putCString(out[off:off+urlWidth], p.FirmwareURL); err != nil {
		return nil, fmt.Errorf("firmware url: %w", err)
	}
	off += urlWidth
	if err := putCString(out[off:off+hashWidth], p.FirmwareHash); err != nil {
		return nil, fmt.Errorf("firmware hash: %w", err)
	}
	off += hashWidth
	binary.LittleEndian.PutUint32(out[off:], p.FirmwareSize)
	off += 4
	binary.LittleEndian.PutUint16(out[off:], p.VersionMajor)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], p.VersionMinor)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], p.VersionPatch)

	return out, nil
}

// UnmarshalCommand parses a command datagram. Every string field is forcibly
// NUL-terminated at its last byte before being read, whatever was received.
func UnmarshalCommand(data []byte) (CommandPacket, error) {
	if len(data) != CommandPacketSize {
		return CommandPacket{}, &ErrBadLength{Got: len(data), Want: CommandPacketSize}
	}

	var p CommandPacket
	off := 0
	p.Command = cString(data[off : off+commandWidth])
	off += commandWidth
	p.Timestamp = binary.LittleEndian.Uint32(data[off:])
	off += 4
	p.FirmwareURL = cString(data[off : off+urlWidth])
	off += urlWidth
	p.FirmwareHash = cString(data[off : off+hashWidth])
	off += hashWidth
	p.FirmwareSize = binary.LittleEndian.Uint32(data[off:])
	off += 4
	p.VersionMajor = binary.LittleEndian.Uint16(data[off:])
	off += 2
	p.VersionMinor = binary.LittleEndian.Uint16(data[off:])
	off += 2
	p.VersionPatch = binary.LittleEndian.Uint16(data[off:])

	return p, nil
}

// StatusPacket is a module status report.
type StatusPacket struct {
	SenderID        uint8
	Timestamp       uint32
	Status          string
	Version         string
	UptimeSeconds   uint32
	FreeMemory      uint32
	UpdateProgress  uint8
	UpdateStage     string
	LastError       string
	PacketsSent     uint32
	PacketsReceived uint32
}

// MarshalBinary renders the packet in wire layout. The free-text fields are
// truncated to their field width rather than rejected: a status report must
// always go out.
func (p *StatusPacket) MarshalBinary() ([]byte, error) {
	out := make([]byte, StatusPacketSize)

	off := 0
	out[off] = p.SenderID
	off++
	binary.LittleEndian.PutUint32(out[off:], p.Timestamp)
	off += 4
	putCStringTrunc(out[off:off+statusWidth], p.Status)
	off += statusWidth
	putCStringTrunc(out[off:off+versionWidth], p.Version)
	off += versionWidth
	binary.LittleEndian.PutUint32(out[off:], p.UptimeSeconds)
	off += 4
	binary.LittleEndian.PutUint32(out[off:], p.FreeMemory)
	off += 4
	out[off] = p.UpdateProgress
	off++
	putCStringTrunc(out[off:off+stageWidth], p.UpdateStage)
	off += stageWidth
	putCStringTrunc(out[off:off+lastErrorWidth], p.LastError)
	off += lastErrorWidth
	binary.LittleEndian.PutUint32(out[off:], p.PacketsSent)
	off += 4
	binary.LittleEndian.PutUint32(out[off:], p.PacketsReceived)

	return out, nil
}

// UnmarshalStatus parses a status datagram, with the same forced
// NUL-termination rule as commands.
func UnmarshalStatus(data []byte) (StatusPacket, error) {
	if len(data) != StatusPacketSize {
		return StatusPacket{}, &ErrBadLength{Got: len(data), Want: StatusPacketSize}
	}

	var p StatusPacket
	off := 0
	p.SenderID = data[off]
	off++
	p.Timestamp = binary.LittleEndian.Uint32(data[off:])
	off += 4
	p.Status = cString(data[off : off+statusWidth])
	off += statusWidth
	p.Version = cString(data[off : off+versionWidth])
	off += versionWidth
	p.UptimeSeconds = binary.LittleEndian.Uint32(data[off:])
	off += 4
	p.FreeMemory = binary.LittleEndian.Uint32(data[off:])
	off += 4
	p.UpdateProgress = data[off]
	off++
	p.UpdateStage = cString(data[off : off+stageWidth])
	off += stageWidth
	p.LastError = cString(data[off : off+lastErrorWidth])
	off += lastErrorWidth
	p.PacketsSent = binary.LittleEndian.Uint32(data[off:])
	off += 4
	p.PacketsReceived = binary.LittleEndian.Uint32(data[off:])

	return p, nil
}

// putCString copies s into field with a guaranteed trailing NUL, failing when
// s does not fit.
func putCString(field []byte, s string) error {
	if len(s) > len(field)-1 {
		return fmt.Errorf("%q does not fit in %d bytes", s, len(field))
	}
	copy(field, s)
	return nil
}

// putCStringTrunc copies s into field, truncating to keep the trailing NUL.
func putCStringTrunc(field []byte, s string) {
	if len(s) > len(field)-1 {
		s = s[:len(field)-1]
	}
	copy(field, s)
}

// cString reads a NUL-terminated string from field after forcing a
// terminator at the last byte.
func cString(field []byte) string {
	field[len(field)-1] = 0
	if i := bytes.IndexByte(field, 0); i >= 0 {
		return string(field[:i])
	}
	return string(field)
}
