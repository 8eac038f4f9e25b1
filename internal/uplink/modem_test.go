package uplink

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/apiary-data/forager.report/internal/classify"
	"github.com/apiary-data/forager.report/internal/gate"
)

// scriptedPort answers each written command with scripted response
// lines. Commands and responses are synchronous, which matches the
// half-duplex modem protocol.
type scriptedPort struct {
	commands []string
	respond  func(cmd string) []string
	readBuf  bytes.Buffer
	closed   bool
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	cmd := strings.TrimRight(string(b), "\r\n")
	p.commands = append(p.commands, cmd)
	for _, line := range p.respond(cmd) {
		p.readBuf.WriteString(line + "\r\n")
	}
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	return p.readBuf.Read(b)
}

func (p *scriptedPort) Close() error {
	p.closed = true
	return nil
}

func okModem(cmd string) []string {
	switch {
	case cmd == "mac join abp":
		return []string{"ok", "accepted"}
	case strings.HasPrefix(cmd, "mac tx "):
		return []string{"ok", "mac_tx_ok"}
	default:
		return []string{"ok"}
	}
}

func testConfig() ModemConfig {
	return ModemConfig{
		DevAddr: "26011BDA",
		NwkSKey: "00112233445566778899AABBCCDDEEFF",
		AppSKey: "FFEEDDCCBBAA99887766554433221100",
	}
}

func TestJoinSequence(t *testing.T) {
	port := &scriptedPort{respond: okModem}
	m := NewModemWithPort(port, testConfig())

	if err := m.Join(); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	want := []string{
		"mac set devaddr 26011BDA",
		"mac set nwkskey 00112233445566778899AABBCCDDEEFF",
		"mac set appskey FFEEDDCCBBAA99887766554433221100",
		"mac save",
		"mac join abp",
	}
	if diff := cmp.Diff(want, port.commands); diff != "" {
		t.Errorf("join command sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinRejected(t *testing.T) {
	port := &scriptedPort{respond: func(cmd string) []string {
		if cmd == "mac join abp" {
			return []string{"ok", "denied"}
		}
		return []string{"ok"}
	}}
	m := NewModemWithPort(port, testConfig())

	if err := m.Join(); err == nil {
		t.Error("expected error when join is denied")
	}
}

func TestSendCountsPayload(t *testing.T) {
	port := &scriptedPort{respond: okModem}
	m := NewModemWithPort(port, testConfig())

	snap := gate.CountSnapshot{
		Counts: map[gate.Direction]map[string]uint64{
			gate.DirectionEntering: {
				classify.LabelVarroa: 1,
				classify.LabelPollen: 2,
				classify.LabelWasp:   4,
			},
			gate.DirectionExiting: {
				classify.LabelCooling: 3,
			},
		},
		Unlabeled: map[gate.Direction]uint64{
			gate.DirectionEntering: 10,
			gate.DirectionExiting:  20,
		},
	}
	if err := m.SendCounts(snap); err != nil {
		t.Fatalf("SendCounts failed: %v", err)
	}

	var txCmd string
	for _, cmd := range port.commands {
		if strings.HasPrefix(cmd, "mac tx ") {
			txCmd = cmd
		}
	}
	if txCmd == "" {
		t.Fatal("no mac tx command sent")
	}

	parts := strings.Fields(txCmd)
	if len(parts) != 5 || parts[2] != "uncnf" || parts[3] != "1" {
		t.Fatalf("unexpected tx command: %q", txCmd)
	}

	payload, err := hex.DecodeString(parts[4])
	if err != nil {
		t.Fatalf("payload is not hex: %v", err)
	}
	// varroa=1 pollen=2 cooling=3 wasps=4 entering=17 exiting=23,
	// each little-endian int16.
	want := []byte{1, 0, 2, 0, 3, 0, 4, 0, 17, 0, 23, 0}
	if !bytes.Equal(payload, want) {
		t.Errorf("payload = %v, want %v", payload, want)
	}
}

func TestSendCountsRejoinsOnSessionError(t *testing.T) {
	txAttempts := 0
	port := &scriptedPort{respond: func(cmd string) []string {
		switch {
		case cmd == "mac join abp":
			return []string{"ok", "accepted"}
		case strings.HasPrefix(cmd, "mac tx "):
			txAttempts++
			if txAttempts == 1 {
				return []string{"not_joined"}
			}
			return []string{"ok", "mac_tx_ok"}
		default:
			return []string{"ok"}
		}
	}}
	m := NewModemWithPort(port, testConfig())

	if err := m.SendCounts(gate.CountSnapshot{}); err != nil {
		t.Fatalf("SendCounts failed: %v", err)
	}
	if txAttempts != 2 {
		t.Errorf("expected 2 tx attempts, got %d", txAttempts)
	}

	// The full command log must show two joins: the lazy initial join
	// and the recovery rejoin between the tx attempts.
	joins := 0
	for _, cmd := range port.commands {
		if cmd == "mac join abp" {
			joins++
		}
	}
	if joins != 2 {
		t.Errorf("expected 2 join commands, got %d", joins)
	}
}

func TestSendCountsTransmissionFailure(t *testing.T) {
	port := &scriptedPort{respond: func(cmd string) []string {
		switch {
		case cmd == "mac join abp":
			return []string{"ok", "accepted"}
		case strings.HasPrefix(cmd, "mac tx "):
			return []string{"ok", "invalid_data_len"}
		default:
			return []string{"ok"}
		}
	}}
	m := NewModemWithPort(port, testConfig())

	if err := m.SendCounts(gate.CountSnapshot{}); err == nil {
		t.Error("expected error when transmission fails")
	}
}

func TestEncodeCountsSaturates(t *testing.T) {
	snap := gate.CountSnapshot{
		Unlabeled: map[gate.Direction]uint64{
			gate.DirectionEntering: 100000,
		},
	}
	payload := EncodeCounts(snap)
	if len(payload) != 12 {
		t.Fatalf("payload length = %d, want 12", len(payload))
	}
	// entering is the fifth counter.
	got := uint16(payload[8]) | uint16(payload[9])<<8
	if got != 32767 {
		t.Errorf("saturated counter = %d, want 32767", got)
	}
}
