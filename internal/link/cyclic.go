package link

import (
	"log"
	"time"

	"dltcan/internal/protocol"
)

// SlotStatus describes a cyclic slot for status reporting
type SlotStatus struct {
	Enabled  bool              `json:"enabled"`
	PeriodMs int64             `json:"period_ms"`
	Frame    protocol.CANFrame `json:"frame"`
}

// CyclicSlot repeats one frame at a fixed period while enabled.
// Its state is guarded by the supervisor mutex.
type CyclicSlot struct {
	sup   *Supervisor
	index int

	enabled bool
	period  time.Duration
	frame   protocol.CANFrame
	gen     uint64
	cancel  func()
}

// Index returns the slot number (1 or 2)
func (c *CyclicSlot) Index() int {
	return c.index
}

// Configure sets the frame and period. A running timer keeps its period
// until the slot is enabled again; the new frame is sent on the next tick.
func (c *CyclicSlot) Configure(frame protocol.CANFrame, period time.Duration) {
	c.sup.mu.Lock()
	c.frame = frame
	c.period = period
	c.sup.mu.Unlock()
}

// Enable arms the slot timer with the configured period
func (c *CyclicSlot) Enable() {
	c.sup.mu.Lock()
	defer c.sup.mu.Unlock()

	if c.period <= 0 {
		log.Printf("[Link] Cyclic slot %d has no period, not enabled", c.index)
		return
	}

	c.disarmLocked()
	c.enabled = true
	gen := c.gen
	c.cancel = c.sup.sched.Every(c.period, func() { c.tick(gen) })
	log.Printf("[Link] Cyclic slot %d enabled every %s", c.index, c.period)
}

// Disable stops the slot timer. A tick already due is dropped.
func (c *CyclicSlot) Disable() {
	c.sup.mu.Lock()
	defer c.sup.mu.Unlock()

	if !c.enabled {
		return
	}
	c.disarmLocked()
	c.enabled = false
	log.Printf("[Link] Cyclic slot %d disabled", c.index)
}

// Status returns the slot configuration
func (c *CyclicSlot) Status() SlotStatus {
	c.sup.mu.Lock()
	defer c.sup.mu.Unlock()
	return c.statusLocked()
}

func (c *CyclicSlot) statusLocked() SlotStatus {
	return SlotStatus{
		Enabled:  c.enabled,
		PeriodMs: c.period.Milliseconds(),
		Frame:    c.frame,
	}
}

func (c *CyclicSlot) disarmLocked() {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *CyclicSlot) tick(gen uint64) {
	s := c.sup
	s.mu.Lock()
	if !c.enabled || gen != c.gen || !s.activeLocked() {
		s.mu.Unlock()
		return
	}
	frame := c.frame
	if err := s.writeLocked(frame); err != nil {
		s.mu.Unlock()
		logSendError(frame, err)
		return
	}
	s.mu.Unlock()

	s.emitFrame(frame)
}
