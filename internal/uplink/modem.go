// Package uplink ships interval count snapshots off the hive over a
// LoRaWAN modem (RN2483-family, command/response over serial). The
// radio link is narrow and unreliable by nature, so the payload is six
// little-endian int16 counters and every failure is non-fatal: a lost
// interval is acceptable, a stalled pipeline is not.
package uplink

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/apiary-data/forager.report/internal/classify"
	"github.com/apiary-data/forager.report/internal/gate"
)

// DefaultBaud is the RN2483 factory baud rate.
const DefaultBaud = 57600

// uplinkFPort is the LoRaWAN port the counter payload is sent on.
const uplinkFPort = 1

// ModemConfig holds the serial parameters and the ABP session keys.
// The keys are hex strings as the modem expects them.
type ModemConfig struct {
	PortName string
	Baud     int

	DevAddr string
	NwkSKey string
	AppSKey string
}

// Modem drives an RN2483-family LoRaWAN modem. All commands are
// serialized on one mutex; the modem itself is strictly half-duplex.
type Modem struct {
	cfg ModemConfig

	mu     sync.Mutex
	port   io.ReadWriteCloser
	reader *bufio.Reader
	joined bool
}

// Open opens the configured serial port and joins the network.
func Open(cfg ModemConfig) (*Modem, error) {
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open uplink port %s: %w", cfg.PortName, err)
	}

	m := NewModemWithPort(port, cfg)
	if err := m.Join(); err != nil {
		port.Close()
		return nil, err
	}
	return m, nil
}

// NewModemWithPort wraps an already-open port. Tests use this with an
// in-memory pipe; Open uses it with the real serial port.
func NewModemWithPort(port io.ReadWriteCloser, cfg ModemConfig) *Modem {
	return &Modem{
		cfg:    cfg,
		port:   port,
		reader: bufio.NewReader(port),
	}
}

// Close closes the serial port.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port.Close()
}

// Join configures the ABP session and joins the network. The modem
// answers "ok" to each set command and "accepted" to the join.
func (m *Modem) Join() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joinLocked()
}

func (m *Modem) joinLocked() error {
	m.joined = false

	setup := []string{
		"mac set devaddr " + m.cfg.DevAddr,
		"mac set nwkskey " + m.cfg.NwkSKey,
		"mac set appskey " + m.cfg.AppSKey,
		"mac save",
	}
	for _, cmd := range setup {
		resp, err := m.sendCmdLocked(cmd)
		if err != nil {
			return err
		}
		if resp != "ok" {
			return fmt.Errorf("modem rejected %q: %s", firstWord(cmd), resp)
		}
	}

	resp, err := m.sendCmdLocked("mac join abp")
	if err != nil {
		return err
	}
	if resp != "ok" {
		return fmt.Errorf("join command rejected: %s", resp)
	}
	// The join result arrives as a second line.
	resp, err = m.readLineLocked()
	if err != nil {
		return err
	}
	if resp != "accepted" {
		return fmt.Errorf("join not accepted: %s", resp)
	}

	m.joined = true
	Opsf("joined network (devaddr %s)", m.cfg.DevAddr)
	return nil
}

// SendCounts transmits one snapshot as an unconfirmed uplink. The
// payload is six little-endian int16 counters: varroa, pollen,
// cooling, wasps, entering, exiting. Session errors trigger one
// rejoin-and-retry before giving up on the interval.
func (m *Modem) SendCounts(snap gate.CountSnapshot) error {
	payload := EncodeCounts(snap)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.joined {
		if err := m.joinLocked(); err != nil {
			return err
		}
	}

	err := m.transmitLocked(payload)
	if err == nil {
		return nil
	}
	if !isSessionError(err) {
		return err
	}

	Opsf("uplink session error (%v), rejoining", err)
	if err := m.joinLocked(); err != nil {
		return fmt.Errorf("rejoin failed: %w", err)
	}
	return m.transmitLocked(payload)
}

// sessionError marks modem responses that invalidate the session.
type sessionError string

func (e sessionError) Error() string { return string(e) }

func isSessionError(err error) bool {
	_, ok := err.(sessionError)
	return ok
}

func (m *Modem) transmitLocked(payload []byte) error {
	cmd := fmt.Sprintf("mac tx uncnf %d %s", uplinkFPort, hex.EncodeToString(payload))
	resp, err := m.sendCmdLocked(cmd)
	if err != nil {
		return err
	}

	switch resp {
	case "ok":
		// fallthrough to the transmission result below
	case "not_joined", "frame_counter_err_rejoin_needed", "mac_paused", "silent":
		m.joined = false
		return sessionError(resp)
	case "busy":
		return fmt.Errorf("modem busy")
	default:
		return fmt.Errorf("tx command rejected: %s", resp)
	}

	// Second line reports the radio outcome.
	resp, err = m.readLineLocked()
	if err != nil {
		return err
	}
	if resp != "mac_tx_ok" {
		return fmt.Errorf("transmission failed: %s", resp)
	}
	Diagf("uplinked %d-byte payload", len(payload))
	return nil
}

// sendCmdLocked writes one command line and reads one response line.
func (m *Modem) sendCmdLocked(cmd string) (string, error) {
	Tracef("> %s", cmd)
	if _, err := m.port.Write([]byte(cmd + "\r\n")); err != nil {
		return "", fmt.Errorf("failed to write modem command: %w", err)
	}
	return m.readLineLocked()
}

func (m *Modem) readLineLocked() (string, error) {
	line, err := m.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read modem response: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	Tracef("< %s", line)
	return line, nil
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// EncodeCounts packs a snapshot into the fixed uplink payload: six
// little-endian int16s in the order varroa, pollen, cooling, wasps,
// entering, exiting. Counts beyond int16 range saturate.
func EncodeCounts(snap gate.CountSnapshot) []byte {
	values := []uint64{
		snap.LabelTotal(classify.LabelVarroa),
		snap.LabelTotal(classify.LabelPollen),
		snap.LabelTotal(classify.LabelCooling),
		snap.LabelTotal(classify.LabelWasp),
		snap.DirectionTotal(gate.DirectionEntering),
		snap.DirectionTotal(gate.DirectionExiting),
	}

	payload := make([]byte, 2*len(values))
	for i, v := range values {
		if v > 32767 {
			v = 32767
		}
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(v))
	}
	return payload
}
