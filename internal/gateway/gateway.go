package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"dltcan/internal/adapter"
	"dltcan/internal/config"
	"dltcan/internal/link"
	"dltcan/internal/protocol"
	"dltcan/internal/server"
)

const (
	storeTimeout        = 2 * time.Second
	defaultSettingsFile = "dltcan.yaml"
)

var ErrInvalidSlot = errors.New("cyclic slot must be 1 or 2")

// DLTServer is the DLT side of the gateway
type DLTServer interface {
	Start() error
	Stop()
	SendValue(level byte, args ...string)
	Client() *server.Session
}

// Publisher publishes gateway events to the message bus
type Publisher interface {
	PublishFrame(ev FrameEvent) error
	PublishStatus(ev StatusEvent) error
}

// Store keeps the gateway shadow
type Store interface {
	SaveStatus(ctx context.Context, ev StatusEvent) error
	SaveFrame(ctx context.Context, ev FrameEvent) error
	SaveSession(ctx context.Context, sessionID, clientIP string) error
	TouchSession(ctx context.Context) error
}

// Broadcaster pushes events to live clients
type Broadcaster interface {
	Broadcast(eventType string, data interface{})
	ClientCount() int
}

// Gateway connects the CAN link and the DLT server: received and sent
// frames are logged to DLT and injection commands drive the link
type Gateway struct {
	link      *link.Supervisor
	dlt       DLTServer
	publisher Publisher
	store     Store
	hub       Broadcaster

	mu           sync.Mutex
	cfg          *config.Config
	linkStatus   string
	serverStatus string
}

// New creates a gateway for cfg. The link and DLT server are attached
// with SetLink and SetDLT before Start.
func New(cfg *config.Config) *Gateway {
	return &Gateway{cfg: cfg}
}

// SetLink sets the CAN link supervisor
func (g *Gateway) SetLink(sup *link.Supervisor) {
	g.link = sup
}

// SetDLT sets the DLT server
func (g *Gateway) SetDLT(dlt DLTServer) {
	g.dlt = dlt
}

// SetPublisher sets the event publisher
func (g *Gateway) SetPublisher(p Publisher) {
	g.publisher = p
}

// SetStore sets the shadow store
func (g *Gateway) SetStore(s Store) {
	g.store = s
}

// SetBroadcaster sets the live event broadcaster
func (g *Gateway) SetBroadcaster(b Broadcaster) {
	g.hub = b
}

// LinkConfig builds the link settings from cfg
func LinkConfig(cfg *config.Config) link.Config {
	return link.Config{
		Interface: cfg.CAN.Interface,
		Identity: link.DeviceIdentity{
			SerialNumber: cfg.CAN.SerialNumber,
			VendorID:     cfg.CAN.VendorID,
			ProductID:    cfg.CAN.ProductID,
		},
		Active: cfg.CAN.Active,
		Debug:  cfg.Debug,
	}
}

// Start starts the DLT server and the link, then applies the configured
// cyclic slots
func (g *Gateway) Start() {
	if err := g.dlt.Start(); err != nil {
		log.Printf("[Gateway] DLT server not started: %v", err)
	}
	g.link.Start()

	g.mu.Lock()
	slots := g.cfg.CAN.Cyclic
	g.mu.Unlock()

	for i, slotCfg := range slots {
		if slotCfg.ID == 0 && slotCfg.Data == "" && !slotCfg.Active {
			continue
		}
		frame, err := adapter.ParseFrame(strconv.FormatUint(uint64(slotCfg.ID), 16), slotCfg.Data)
		if err != nil {
			log.Printf("[Gateway] Invalid cyclic message %d: %v", i+1, err)
			continue
		}
		slot := g.link.Slot(i + 1)
		slot.Configure(frame, time.Duration(slotCfg.TimeoutMs)*time.Millisecond)
		if slotCfg.Active {
			slot.Enable()
		}
	}
}

// Stop disables the cyclic slots and stops the link and the DLT server
func (g *Gateway) Stop() {
	for i := 1; i <= 2; i++ {
		g.link.Slot(i).Disable()
	}
	g.link.Stop()
	g.dlt.Stop()
}

// LinkStatus implements protocol.LinkObserver
func (g *Gateway) LinkStatus(status string) {
	g.mu.Lock()
	g.linkStatus = status
	g.mu.Unlock()

	log.Printf("[Gateway] CAN status: %s", status)
	g.publishStatus(ComponentCAN, status)
}

// CANMessage implements protocol.LinkObserver
func (g *Gateway) CANMessage(frame protocol.CANFrame) {
	g.dlt.SendValue(adapter.LogInfo, "CAN", frame.IDString(), frame.DataString())

	ev := newFrameEvent(g.gatewayID(), frame)
	if g.publisher != nil {
		if err := g.publisher.PublishFrame(ev); err != nil {
			log.Printf("[NATS] Failed to publish frame %s: %v", ev.IDHex, err)
		}
	}
	if g.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := g.store.SaveFrame(ctx, ev); err != nil {
			log.Printf("[Redis] Failed to save frame %s: %v", ev.IDHex, err)
		}
		if g.dlt.Client() != nil {
			if err := g.store.TouchSession(ctx); err != nil {
				log.Printf("[Redis] Failed to refresh DLT session: %v", err)
			}
		}
		cancel()
	}
	if g.hub != nil {
		g.hub.Broadcast("frame", ev)
	}
}

// ServerStatus implements protocol.ServerObserver
func (g *Gateway) ServerStatus(status string) {
	g.mu.Lock()
	g.serverStatus = status
	g.mu.Unlock()

	log.Printf("[Gateway] DLT status: %s", status)
	g.publishStatus(ComponentDLT, status)

	if g.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	var err error
	if session := g.dlt.Client(); status == protocol.ServerConnected && session != nil {
		err = g.store.SaveSession(ctx, session.ID, session.ClientIP)
	} else {
		err = g.store.SaveSession(ctx, "", "")
	}
	if err != nil {
		log.Printf("[Redis] Failed to save DLT session: %v", err)
	}
}

// InjectionReceived implements protocol.ServerObserver
func (g *Gateway) InjectionReceived(command string) {
	if err := g.Dispatch(command); err != nil {
		log.Printf("[Gateway] Injection %q not executed: %v", command, err)
	}
}

// Dispatch parses and executes a command string
func (g *Gateway) Dispatch(command string) error {
	cmd, err := adapter.ParseCommand(command)
	if err != nil {
		return err
	}

	switch cmd.Type {
	case protocol.CmdSend:
		return g.SendFrame(cmd.Frame)
	case protocol.CmdCyclicEnable:
		return g.EnableCyclic(cmd.Slot, cmd.Frame, time.Duration(cmd.Period)*time.Millisecond)
	case protocol.CmdCyclicDisable:
		return g.DisableCyclic(cmd.Slot)
	}
	return fmt.Errorf("%w: %s", adapter.ErrUnknownCommand, cmd.Type)
}

// SendFrame sends frame once and records it as the one-shot message
func (g *Gateway) SendFrame(frame protocol.CANFrame) error {
	if !g.link.Active() {
		return link.ErrNotActive
	}
	g.link.SendOneShot(frame)

	g.mu.Lock()
	g.cfg.CAN.MessageID = frame.ID
	g.cfg.CAN.MessageData = frame.DataString()
	g.mu.Unlock()
	return nil
}

// EnableCyclic configures and arms a cyclic slot
func (g *Gateway) EnableCyclic(n int, frame protocol.CANFrame, period time.Duration) error {
	slot := g.link.Slot(n)
	if slot == nil {
		return ErrInvalidSlot
	}
	slot.Configure(frame, period)
	slot.Enable()

	g.mu.Lock()
	g.cfg.CAN.Cyclic[n-1] = config.CyclicConfig{
		Active:    true,
		TimeoutMs: int(period / time.Millisecond),
		ID:        frame.ID,
		Data:      frame.DataString(),
	}
	g.mu.Unlock()
	return nil
}

// DisableCyclic stops a cyclic slot
func (g *Gateway) DisableCyclic(n int) error {
	slot := g.link.Slot(n)
	if slot == nil {
		return ErrInvalidSlot
	}
	slot.Disable()

	g.mu.Lock()
	g.cfg.CAN.Cyclic[n-1].Active = false
	g.mu.Unlock()
	return nil
}

// Status returns the gateway state
func (g *Gateway) Status() server.StatusReport {
	g.mu.Lock()
	report := server.StatusReport{
		GatewayID:    g.cfg.GatewayID,
		LinkStatus:   g.linkStatus,
		ServerStatus: g.serverStatus,
	}
	g.mu.Unlock()

	report.Link = g.link.Snapshot()
	report.DLTClient = g.dlt.Client()
	if g.hub != nil {
		report.WSClients = g.hub.ClientCount()
	}
	return report
}

// SaveSettings records the USB identity of the current port and writes
// the settings file
func (g *Gateway) SaveSettings() (string, error) {
	identity, ok := g.link.Identify()

	g.mu.Lock()
	defer g.mu.Unlock()

	if ok {
		g.cfg.CAN.SerialNumber = identity.SerialNumber
		g.cfg.CAN.VendorID = identity.VendorID
		g.cfg.CAN.ProductID = identity.ProductID
	}

	path := g.cfg.Path
	if path == "" {
		path = defaultSettingsFile
	}
	if err := g.cfg.Save(path); err != nil {
		return "", err
	}
	g.cfg.Path = path
	log.Printf("[Gateway] Settings saved to %s", path)
	return path, nil
}

func (g *Gateway) gatewayID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg.GatewayID
}

func (g *Gateway) publishStatus(component, status string) {
	ev := StatusEvent{
		GatewayID: g.gatewayID(),
		Component: component,
		Status:    status,
		Timestamp: time.Now().Unix(),
	}

	if g.publisher != nil {
		if err := g.publisher.PublishStatus(ev); err != nil {
			log.Printf("[NATS] Failed to publish %s status: %v", component, err)
		}
	}
	if g.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := g.store.SaveStatus(ctx, ev); err != nil {
			log.Printf("[Redis] Failed to save %s status: %v", component, err)
		}
		cancel()
	}
	if g.hub != nil {
		g.hub.Broadcast("status", ev)
	}
}
