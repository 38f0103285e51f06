package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestCommandRoundTrip(t *testing.T) {
	in := CommandPacket{
		Command:      CmdStartUpdate,
		Timestamp:    1_720_000_000,
		FirmwareURL:  "http://10.0.0.5:8080/fw.bin",
		FirmwareHash: strings.Repeat("ab", 32),
		FirmwareSize: 524288,
		VersionMajor: 2,
		VersionMinor: 1,
		VersionPatch: 3,
	}

	data, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(data) != CommandPacketSize {
		t.Fatalf("encoded size = %d, want %d", len(data), CommandPacketSize)
	}

	out, err := UnmarshalCommand(data)
	if err != nil {
		t.Fatalf("UnmarshalCommand: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestCommandRejectsWrongLength(t *testing.T) {
	for _, n := range []int{0, 1, CommandPacketSize - 1, CommandPacketSize + 1, StatusPacketSize} {
		_, err := UnmarshalCommand(make([]byte, n))
		var bad *ErrBadLength
		if !errors.As(err, &bad) {
			t.Fatalf("len %d: error = %v, want ErrBadLength", n, err)
		}
		if bad.Got != n || bad.Want != CommandPacketSize {
			t.Fatalf("len %d: ErrBadLength = %+v", n, bad)
		}
	}
}

func TestCommandForcesTermination(t *testing.T) {
	// A hostile datagram with no NUL anywhere must still parse into bounded
	// strings.
	data := make([]byte, CommandPacketSize)
	for i := range data {
		data[i] = 'A'
	}

	p, err := UnmarshalCommand(data)
	if err != nil {
		t.Fatalf("UnmarshalCommand: %v", err)
	}
	if len(p.Command) != 31 {
		t.Fatalf("command length = %d, want field width minus terminator", len(p.Command))
	}
	if len(p.FirmwareURL) != 255 {
		t.Fatalf("url length = %d, want 255", len(p.FirmwareURL))
	}
	if len(p.FirmwareHash) != 64 {
		t.Fatalf("hash length = %d, want 64", len(p.FirmwareHash))
	}
}

func TestCommandMarshalRejectsOversizeFields(t *testing.T) {
	p := CommandPacket{
		Command:     CmdStartUpdate,
		FirmwareURL: strings.Repeat("x", 256),
	}
	if _, err := p.MarshalBinary(); err == nil {
		t.Fatal("MarshalBinary accepted a 256-byte URL in a 256-byte field")
	}
}

func TestStatusRoundTrip(t *testing.T) {
	in := StatusPacket{
		SenderID:        3,
		Timestamp:       1_720_000_042,
		Status:          StatusUpdating,
		Version:         "2.1.3+47",
		UptimeSeconds:   86400,
		FreeMemory:      262144,
		UpdateProgress:  50,
		UpdateStage:     "Flashing firmware",
		LastError:       "",
		PacketsSent:     120,
		PacketsReceived: 118,
	}

	data, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(data) != StatusPacketSize {
		t.Fatalf("encoded size = %d, want %d", len(data), StatusPacketSize)
	}

	out, err := UnmarshalStatus(data)
	if err != nil {
		t.Fatalf("UnmarshalStatus: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestStatusTruncatesLongError(t *testing.T) {
	in := StatusPacket{
		Status:    StatusError,
		LastError: strings.Repeat("e", 200),
	}
	data, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	out, err := UnmarshalStatus(data)
	if err != nil {
		t.Fatalf("UnmarshalStatus: %v", err)
	}
	if len(out.LastError) != 127 {
		t.Fatalf("truncated error length = %d, want 127", len(out.LastError))
	}
}

func TestStatusRejectsWrongLength(t *testing.T) {
	_, err := UnmarshalStatus(make([]byte, CommandPacketSize))
	var bad *ErrBadLength
	if !errors.As(err, &bad) {
		t.Fatalf("error = %v, want ErrBadLength", err)
	}
}
