package link

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultBaudRate is the rate the CAN adapter firmware runs at
const DefaultBaudRate = 115200

// Port is an open serial connection to the adapter
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the adapter port at path
type Opener interface {
	Open(path string) (Port, error)
}

// DeviceIdentity is the USB identity recorded for an adapter
type DeviceIdentity struct {
	SerialNumber string `yaml:"serial_number" json:"serial_number"`
	VendorID     uint16 `yaml:"vendor_id" json:"vendor_id"`
	ProductID    uint16 `yaml:"product_id" json:"product_id"`
}

// IsZero reports whether no identity was recorded
func (d DeviceIdentity) IsZero() bool {
	return d.SerialNumber == "" && d.VendorID == 0 && d.ProductID == 0
}

// Resolver maps a recorded device identity to the current port path
type Resolver interface {
	// Resolve returns the path of the port matching id, or path unchanged
	Resolve(id DeviceIdentity, path string) string
	// Identify returns the identity of the port at path
	Identify(path string) (DeviceIdentity, bool)
}

// Scheduler runs tasks periodically
type Scheduler interface {
	// Every runs task every d until cancel is called
	Every(d time.Duration, task func()) (cancel func())
}

// SerialOpener opens adapter ports with go.bug.st/serial
type SerialOpener struct {
	BaudRate int
}

// Open opens path with 8N1 framing
func (o SerialOpener) Open(path string) (Port, error) {
	baud := o.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// EnumeratorResolver resolves USB identities with the OS port enumerator
type EnumeratorResolver struct{}

// Resolve implements Resolver
func (EnumeratorResolver) Resolve(id DeviceIdentity, path string) string {
	if id.IsZero() {
		return path
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		log.Printf("[Link] Failed to enumerate ports: %v", err)
		return path
	}

	for _, p := range ports {
		if p.Name == path && matches(p, id) {
			return path
		}
	}

	log.Printf("[Link] Port %s not found anymore", path)
	resolved := path
	for _, p := range ports {
		if matches(p, id) {
			log.Printf("[Link] Port name has changed from %s to %s", path, p.Name)
			resolved = p.Name
		}
	}
	return resolved
}

// Identify implements Resolver
func (EnumeratorResolver) Identify(path string) (DeviceIdentity, bool) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return DeviceIdentity{}, false
	}
	for _, p := range ports {
		if p.Name == path && p.IsUSB {
			return DeviceIdentity{
				SerialNumber: p.SerialNumber,
				VendorID:     parseHexID(p.VID),
				ProductID:    parseHexID(p.PID),
			}, true
		}
	}
	return DeviceIdentity{}, false
}

func matches(p *enumerator.PortDetails, id DeviceIdentity) bool {
	return p.IsUSB &&
		p.SerialNumber == id.SerialNumber &&
		parseHexID(p.VID) == id.VendorID &&
		parseHexID(p.PID) == id.ProductID
}

func parseHexID(s string) uint16 {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

// TickerScheduler runs tasks on time.Ticker goroutines.
// Ticks of one task never overlap.
type TickerScheduler struct{}

// Every implements Scheduler
func (TickerScheduler) Every(d time.Duration, task func()) func() {
	ticker := time.NewTicker(d)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				task()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}
