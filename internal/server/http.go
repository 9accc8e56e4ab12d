package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dltcan/internal/adapter"
	"dltcan/internal/link"
	"dltcan/internal/protocol"
)

// StatusReport is the gateway state returned by GET /status
type StatusReport struct {
	GatewayID    string        `json:"gateway_id"`
	LinkStatus   string        `json:"link_status"`
	ServerStatus string        `json:"server_status"`
	Link         link.Snapshot `json:"link"`
	DLTClient    *Session      `json:"dlt_client,omitempty"`
	WSClients    int           `json:"ws_clients"`
}

// Controller is the gateway behind the management API
type Controller interface {
	Status() StatusReport
	SendFrame(frame protocol.CANFrame) error
	EnableCyclic(slot int, frame protocol.CANFrame, period time.Duration) error
	DisableCyclic(slot int) error
	Dispatch(command string) error
	SaveSettings() (string, error)
}

// FrameRequest is the body of the frame endpoints; id and data are hex
type FrameRequest struct {
	ID       string `json:"id" binding:"required"`
	Data     string `json:"data"`
	PeriodMs int    `json:"period_ms"`
}

// CommandRequest is the body of POST /command
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// HTTPServer serves the gateway management API
type HTTPServer struct {
	gatewayID string
	ctrl      Controller
	hub       *Hub
	router    *gin.Engine
	server    *http.Server
}

// NewHTTPServer creates the management API on port
func NewHTTPServer(gatewayID string, port int, ctrl Controller, hub *Hub) *HTTPServer {
	s := &HTTPServer{
		gatewayID: gatewayID,
		ctrl:      ctrl,
		hub:       hub,
	}
	s.setup()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *HTTPServer) setup() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.POST("/can/send", s.handleSend)
	s.router.POST("/can/cyclic/:slot", s.handleCyclicEnable)
	s.router.DELETE("/can/cyclic/:slot", s.handleCyclicDisable)
	s.router.POST("/command", s.handleCommand)
	s.router.POST("/settings/save", s.handleSave)
	if s.hub != nil {
		s.router.GET("/ws", s.hub.ServeWS)
	}
}

// Router returns the gin router for testing
func (s *HTTPServer) Router() *gin.Engine {
	return s.router
}

// Start serves HTTP in the background
func (s *HTTPServer) Start() {
	log.Printf("[HTTP] Listening on %s", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[HTTP] Server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server
func (s *HTTPServer) Stop(ctx context.Context) {
	if err := s.server.Shutdown(ctx); err != nil {
		log.Printf("[HTTP] Shutdown error: %v", err)
	}
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"gateway_id": s.gatewayID,
	})
}

func (s *HTTPServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *HTTPServer) handleSend(c *gin.Context) {
	var req FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frame, err := adapter.ParseFrame(req.ID, req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.ctrl.SendFrame(frame); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *HTTPServer) handleCyclicEnable(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}

	var req FrameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.PeriodMs <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period_ms must be positive"})
		return
	}

	frame, err := adapter.ParseFrame(req.ID, req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	period := time.Duration(req.PeriodMs) * time.Millisecond
	if err := s.ctrl.EnableCyclic(slot, frame, period); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "enabled", "slot": slot})
}

func (s *HTTPServer) handleCyclicDisable(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	if err := s.ctrl.DisableCyclic(slot); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disabled", "slot": slot})
}

func (s *HTTPServer) handleCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.ctrl.Dispatch(req.Command); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dispatched"})
}

func (s *HTTPServer) handleSave(c *gin.Context) {
	path, err := s.ctrl.SaveSettings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "path": path})
}

func slotParam(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot < 1 || slot > 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slot must be 1 or 2"})
		return 0, false
	}
	return slot, true
}

func respondError(c *gin.Context, err error) {
	if errors.Is(err, link.ErrNotActive) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
