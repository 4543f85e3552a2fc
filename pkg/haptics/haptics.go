// Package haptics drives the statue's haptic motor controller over a serial
// link. It is a downstream consumer of the contact state: motors pulse while
// any peer is linked and stop when contact drops.
package haptics

import (
	"fmt"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/itohio/firstcontact/pkg/contact"
)

// DefaultBaudRate is the motor controller's UART rate.
const DefaultBaudRate = 115200

// Driver talks to the haptic motor MCU. Commands are single ASCII lines:
// "H1\n" motors on, "H0\n" motors off, so the MCU side stays trivial.
type Driver struct {
	port     string
	baudRate int

	mu        sync.Mutex
	conn      serial.Port
	connected bool
	active    bool
}

// New creates a driver for the given serial port.
func New(port string, baudRate int) *Driver {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	return &Driver{
		port:     port,
		baudRate: baudRate,
	}
}

// Connect opens the serial port.
func (d *Driver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	conn, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = conn
	d.connected = true
	return nil
}

// Close stops the motors and closes the port.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	// Best effort: leave the motors off.
	_, _ = d.conn.Write([]byte("H0\n"))

	err := d.conn.Close()
	d.conn = nil
	d.connected = false
	d.active = false
	return err
}

// IsConnected reports whether the port is open.
func (d *Driver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Update reacts to a contact snapshot, switching the motors on the linked
// edge and off on the unlinked edge. Repeated identical states write nothing.
func (d *Driver) Update(st contact.State) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}

	want := st.Initialized && st.Linked()
	if want == d.active {
		return nil
	}

	var cmd strings.Builder
	cmd.WriteString("H")
	if want {
		cmd.WriteByte('1')
	} else {
		cmd.WriteByte('0')
	}
	cmd.WriteByte('\n')

	if _, err := d.conn.Write([]byte(cmd.String())); err != nil {
		return fmt.Errorf("failed to send motor command: %w", err)
	}

	d.active = want
	return nil
}
