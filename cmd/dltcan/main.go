package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"dltcan/internal/config"
	"dltcan/internal/gateway"
	"dltcan/internal/link"
	"dltcan/internal/server"
)

func main() {
	log.Println("[Gateway] Starting DLTCan Gateway...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Gateway] Invalid configuration: %v", err)
	}
	log.Printf("[Gateway] Configuration loaded: ID=%s, Interface=%s, DLT port=%d", cfg.GatewayID, cfg.CAN.Interface, cfg.DLT.Port)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	gw := gateway.New(cfg)

	// Connect to Redis
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
			DB:   0,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("[Gateway] Failed to connect to Redis: %v", err)
		}
		log.Println("[Gateway] Connected to Redis")
		defer redisClient.Close()

		gw.SetStore(gateway.NewRedisStore(redisClient, cfg.GatewayID))
	}

	// Connect to NATS
	if cfg.NATSURL != "" {
		natsConn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("[Gateway] Failed to connect to NATS: %v", err)
		}
		log.Println("[Gateway] Connected to NATS")
		defer natsConn.Close()

		codec, err := gateway.NewCodec(cfg.EventEncoding)
		if err != nil {
			log.Fatalf("[Gateway] %v", err)
		}
		publisher := gateway.NewNATSPublisher(natsConn, cfg.GatewayID, codec)
		if err := publisher.SubscribeCommands(gw.Dispatch); err != nil {
			log.Fatalf("[Gateway] Failed to subscribe to commands: %v", err)
		}
		defer publisher.Close()

		gw.SetPublisher(publisher)
	}

	hub := server.NewHub()
	go hub.Run()
	gw.SetBroadcaster(hub)

	sup := link.NewSupervisor(
		gateway.LinkConfig(cfg),
		link.SerialOpener{BaudRate: cfg.CAN.BaudRate},
		link.EnumeratorResolver{},
		link.TickerScheduler{},
		gw,
	)
	gw.SetLink(sup)

	dlt := server.NewDLTServer(server.DLTConfig{
		Addr:          fmt.Sprintf(":%d", cfg.DLT.Port),
		ApplicationID: cfg.DLT.ApplicationID,
		ContextID:     cfg.DLT.ContextID,
	}, gw)
	gw.SetDLT(dlt)

	gw.Start()

	httpServer := server.NewHTTPServer(cfg.GatewayID, cfg.HTTPPort, gw, hub)
	httpServer.Start()

	log.Println("[Gateway] Gateway started successfully")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("[Gateway] Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Stop(ctx)
	hub.Stop()
	gw.Stop()
	log.Println("[Gateway] Gateway stopped")
}
