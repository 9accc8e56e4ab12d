package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"dltcan/internal/adapter"
	"dltcan/internal/protocol"
)

const writeTimeout = 5 * time.Second

// DLTConfig holds the DLT server settings
type DLTConfig struct {
	Addr          string
	ApplicationID string
	ContextID     string
}

// Session represents the connected DLT client
type Session struct {
	ID          string    `json:"id"`
	ClientIP    string    `json:"client_ip"`
	ConnectedAt time.Time `json:"connected_at"`
	Conn        net.Conn  `json:"-"`
}

// DLTServer serves log records to a single DLT client and receives
// injection requests from it
type DLTServer struct {
	config   DLTConfig
	scanner  protocol.PacketScanner
	observer protocol.ServerObserver

	mu       sync.Mutex
	listener net.Listener
	session  *Session
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewDLTServer creates a new DLT server
func NewDLTServer(cfg DLTConfig, observer protocol.ServerObserver) *DLTServer {
	return &DLTServer{
		config:   cfg,
		scanner:  adapter.NewDLTScanner(),
		observer: observer,
	}
}

// Start starts listening. Calling Start on a listening server does nothing.
func (s *DLTServer) Start() error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return nil
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.mu.Unlock()
		log.Printf("[DLT] Failed to listen on %s: %v", s.config.Addr, err)
		s.emitStatus(protocol.ServerError)
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.acceptLoop(s.ctx, listener)
	s.mu.Unlock()

	log.Printf("[DLT] Listening on %s", listener.Addr())
	s.emitStatus(protocol.ServerListening)
	return nil
}

// Stop closes the client connection and the listener
func (s *DLTServer) Stop() {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.listener.Close()
	s.listener = nil
	if s.session != nil {
		s.session.Conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("[DLT] Stopped")
	s.emitStatus(protocol.ServerStopped)
}

// Addr returns the listening address, nil when stopped
func (s *DLTServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Client returns the connected client session, nil if there is none
func (s *DLTServer) Client() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	session := *s.session
	return &session
}

// SendValue sends a log record with 1 to 3 string arguments to the client.
// Without a client it does nothing.
func (s *DLTServer) SendValue(level byte, args ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return
	}

	data, err := adapter.EncodeLogRecord(adapter.LogRecord{
		AppID: s.config.ApplicationID,
		CtxID: s.config.ContextID,
		Level: level,
		Args:  args,
	})
	if err != nil {
		log.Printf("[DLT] Failed to encode log record: %v", err)
		return
	}

	conn := s.session.Conn
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(data); err != nil {
		log.Printf("[DLT] Write error to %s: %v", s.session.ID, err)
	}
}

// acceptLoop serves one client at a time; no connection is accepted
// until the current client disconnects
func (s *DLTServer) acceptLoop(ctx context.Context, listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("[DLT] Accept error: %v", err)
			continue
		}

		s.handleConnection(ctx, conn)

		select {
		case <-ctx.Done():
			return
		default:
		}
		s.emitStatus(protocol.ServerListening)
	}
}

func (s *DLTServer) handleConnection(ctx context.Context, conn net.Conn) {
	session := &Session{
		ID:          uuid.NewString(),
		ClientIP:    conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		Conn:        conn,
	}

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.session = session
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.session = nil
		s.mu.Unlock()
		conn.Close()
		log.Printf("[DLT] Connection closed: %s", session.ID)
	}()

	log.Printf("[DLT] New connection: %s from %s", session.ID, session.ClientIP)
	s.emitStatus(protocol.ServerConnected)

	buffer := make([]byte, 4096)
	var pending []byte

	for {
		n, err := conn.Read(buffer)
		if n > 0 {
			pending = append(pending, buffer[:n]...)
			pending = s.drain(session, pending)
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				log.Printf("[DLT] Read error from %s: %v", session.ID, err)
			}
			return
		}
	}
}

// drain handles every complete message in pending and returns the rest
func (s *DLTServer) drain(session *Session, pending []byte) []byte {
	for len(pending) > 0 {
		packet, rest, err := s.scanner.Scan(pending)
		if err != nil {
			log.Printf("[DLT] Packet extraction error from %s: %v", session.ID, err)
			return rest
		}
		if packet == nil {
			// Incomplete packet, wait for more data
			break
		}

		pending = rest
		s.handlePacket(session, packet)
	}

	if len(pending) == 0 {
		return nil
	}
	return pending
}

func (s *DLTServer) handlePacket(session *Session, packet []byte) {
	req, ok := adapter.DecodeControl(packet)
	if !ok {
		return
	}

	log.Printf("[DLT] Injection from %s: %q", session.ID, req.Payload)
	if s.observer != nil {
		s.observer.InjectionReceived(req.Payload)
	}
}

func (s *DLTServer) emitStatus(status string) {
	if s.observer != nil {
		s.observer.ServerStatus(status)
	}
}
