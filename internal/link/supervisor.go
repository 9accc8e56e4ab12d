package link

import (
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"time"

	"dltcan/internal/adapter"
	"dltcan/internal/protocol"
)

// WatchdogInterval is the period in which the adapter must send a watchdog pulse
const WatchdogInterval = 5 * time.Second

// ErrNotActive is returned for sends while the link is not active
var ErrNotActive = errors.New("link not active")

// State is the supervisor link state
type State int

const (
	StateInactive State = iota
	StateStarted
	StateReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateStarted:
		return "started"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config holds the link settings read at Start
type Config struct {
	Interface string
	Identity  DeviceIdentity
	Active    bool
	Debug     bool
}

// Snapshot is a point in time view of the link for status reporting
type Snapshot struct {
	Interface    string             `json:"interface"`
	Active       bool               `json:"active"`
	State        string             `json:"state"`
	LastMessage  *protocol.CANFrame `json:"last_message,omitempty"`
	CyclicSlots  [2]SlotStatus      `json:"cyclic"`
	WatchdogSeen uint32             `json:"watchdog_seen"`
}

// Supervisor owns the serial port to the CAN adapter, decodes its stream
// and reconnects when the adapter stops sending watchdog pulses
type Supervisor struct {
	opener   Opener
	resolver Resolver
	sched    Scheduler
	observer protocol.LinkObserver

	mu               sync.Mutex
	cfg              Config
	state            State
	running          bool
	port             Port
	portGen          uint64
	decoder          *adapter.SerialDecoder
	watchdogSeen     uint32
	watchdogSeenLast uint32
	stopWatchdog     func()
	watchdogGen      uint64
	lastMessage      *protocol.CANFrame
	slots            [2]*CyclicSlot
}

// NewSupervisor creates a link supervisor
func NewSupervisor(cfg Config, opener Opener, resolver Resolver, sched Scheduler, observer protocol.LinkObserver) *Supervisor {
	s := &Supervisor{
		opener:   opener,
		resolver: resolver,
		sched:    sched,
		observer: observer,
		cfg:      cfg,
		decoder:  adapter.NewSerialDecoder(),
	}
	for i := range s.slots {
		s.slots[i] = &CyclicSlot{sup: s, index: i + 1}
	}
	return s
}

// SetConfig replaces the link settings, effective at the next Start
func (s *Supervisor) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Config returns the current link settings
func (s *Supervisor) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// State returns the current link state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether the link is configured active and started
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// Slot returns cyclic slot 1 or 2, nil for any other index
func (s *Supervisor) Slot(n int) *CyclicSlot {
	if n < 1 || n > len(s.slots) {
		return nil
	}
	return s.slots[n-1]
}

// Start opens the adapter port and arms the watchdog.
// A failed open is reported as "error"; the watchdog keeps retrying.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if !s.cfg.Active {
		s.mu.Unlock()
		s.emitStatus(protocol.LinkNotActive)
		return
	}
	if s.running {
		s.mu.Unlock()
		return
	}

	s.running = true
	s.cfg.Interface = s.resolver.Resolve(s.cfg.Identity, s.cfg.Interface)
	err := s.openLocked()
	if err != nil {
		log.Printf("[Link] Failed to open interface %s: %v", s.cfg.Interface, err)
		s.state = StateError
	} else {
		log.Printf("[Link] Started %s", s.cfg.Interface)
		s.state = StateStarted
	}
	s.watchdogSeen = 0
	s.watchdogSeenLast = 0
	s.watchdogGen++
	gen := s.watchdogGen
	s.stopWatchdog = s.sched.Every(WatchdogInterval, func() { s.watchdogTick(gen) })
	s.mu.Unlock()

	if err != nil {
		s.emitStatus(protocol.LinkError)
		return
	}
	s.emitStatus(protocol.LinkStarted)
}

// Stop closes the port and disarms the watchdog
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	s.running = false
	s.closeLocked()
	s.watchdogGen++
	if s.stopWatchdog != nil {
		s.stopWatchdog()
		s.stopWatchdog = nil
	}
	s.state = StateInactive
	log.Printf("[Link] Stopped %s", s.cfg.Interface)
	s.mu.Unlock()

	s.emitStatus(protocol.LinkStopped)
}

// watchdogTick checks that pulses arrived since the last tick and
// reconnects the port otherwise
func (s *Supervisor) watchdogTick(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.watchdogGen {
		s.mu.Unlock()
		return
	}

	if s.watchdogSeen != s.watchdogSeenLast {
		s.watchdogSeenLast = s.watchdogSeen
		s.state = StateStarted
		s.mu.Unlock()
		s.emitStatus(protocol.LinkStarted)
		return
	}

	log.Printf("[Link] Watchdog expired, trying to reconnect %s", s.cfg.Interface)
	s.closeLocked()
	s.cfg.Interface = s.resolver.Resolve(s.cfg.Identity, s.cfg.Interface)
	err := s.openLocked()
	if err != nil {
		log.Printf("[Link] Failed to open interface %s: %v", s.cfg.Interface, err)
		s.state = StateError
	} else {
		log.Printf("[Link] Reconnected %s", s.cfg.Interface)
		s.state = StateReconnecting
	}
	s.mu.Unlock()

	if err != nil {
		s.emitStatus(protocol.LinkError)
		return
	}
	s.emitStatus(protocol.LinkReconnect)
}

func (s *Supervisor) openLocked() error {
	port, err := s.opener.Open(s.cfg.Interface)
	if err != nil {
		return err
	}
	s.portGen++
	s.port = port
	s.decoder.Reset()
	go s.readLoop(port, s.portGen)
	return nil
}

func (s *Supervisor) closeLocked() {
	if s.port == nil {
		return
	}
	if err := s.port.Close(); err != nil {
		log.Printf("[Link] Close error on %s: %v", s.cfg.Interface, err)
	}
	s.port = nil
	s.portGen++
	s.decoder.Reset()
}

func (s *Supervisor) readLoop(port Port, gen uint64) {
	buf := make([]byte, 512)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			s.handleBytes(gen, buf[:n])
		}
		if err != nil {
			s.mu.Lock()
			current := gen == s.portGen
			s.mu.Unlock()
			if current {
				log.Printf("[Link] Read error: %v", err)
			}
			return
		}
	}
}

// handleBytes feeds data read from the port of generation gen to the decoder
func (s *Supervisor) handleBytes(gen uint64, data []byte) {
	s.mu.Lock()
	if gen != s.portGen {
		s.mu.Unlock()
		return
	}
	if s.cfg.Debug {
		log.Printf("[Link] Received %s", hex.EncodeToString(data))
	}
	events := s.decoder.Feed(data)
	for _, ev := range events {
		if ev.Type == adapter.EventWatchdog {
			s.watchdogSeen++
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		switch ev.Type {
		case adapter.EventWatchdog:
		case adapter.EventFrame:
			s.emitFrame(ev.Frame)
		default:
			s.emitStatus(ev.Status())
		}
	}
}

// activeLocked reports whether frames may be sent
func (s *Supervisor) activeLocked() bool {
	return s.cfg.Active && s.running
}

// writeLocked encodes frame and writes it to the port if one is open
func (s *Supervisor) writeLocked(frame protocol.CANFrame) error {
	data, err := adapter.EncodeSerialFrame(frame)
	if err != nil {
		return err
	}
	if s.port == nil {
		return nil
	}
	if s.cfg.Debug {
		log.Printf("[Link] Send CAN message %x %s", frame.ID, hex.EncodeToString(data))
	}
	_, err = s.port.Write(data)
	return err
}

// SendOneShot sends frame once. It is a no-op while the link is not active.
func (s *Supervisor) SendOneShot(frame protocol.CANFrame) {
	s.mu.Lock()
	if !s.activeLocked() {
		s.mu.Unlock()
		return
	}
	if err := s.writeLocked(frame); err != nil {
		s.mu.Unlock()
		logSendError(frame, err)
		return
	}
	last := frame
	s.lastMessage = &last
	s.mu.Unlock()

	s.emitFrame(frame)
}

// Identify returns the USB identity of the configured port
func (s *Supervisor) Identify() (DeviceIdentity, bool) {
	path := s.Config().Interface
	return s.resolver.Identify(path)
}

// Snapshot returns the link status for reporting
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Interface:    s.cfg.Interface,
		Active:       s.cfg.Active,
		State:        s.state.String(),
		WatchdogSeen: s.watchdogSeen,
	}
	if s.lastMessage != nil {
		last := *s.lastMessage
		snap.LastMessage = &last
	}
	for i, slot := range s.slots {
		snap.CyclicSlots[i] = slot.statusLocked()
	}
	s.mu.Unlock()
	return snap
}

func (s *Supervisor) emitStatus(status string) {
	if s.observer != nil {
		s.observer.LinkStatus(status)
	}
}

func (s *Supervisor) emitFrame(frame protocol.CANFrame) {
	if s.observer != nil {
		s.observer.CANMessage(frame)
	}
}

func logSendError(frame protocol.CANFrame, err error) {
	if errors.Is(err, adapter.ErrPayloadTooLong) {
		log.Printf("[Link] Dropping frame %x: %v", frame.ID, err)
		return
	}
	log.Printf("[Link] Failed to send frame %x: %v", frame.ID, err)
}
