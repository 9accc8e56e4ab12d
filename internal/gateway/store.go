package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	frameTTL   = 24 * time.Hour
	sessionTTL = 300 * time.Second
)

// RedisStore keeps the gateway shadow in Redis
type RedisStore struct {
	client    *redis.Client
	gatewayID string
}

// NewRedisStore creates a store for gatewayID
func NewRedisStore(client *redis.Client, gatewayID string) *RedisStore {
	return &RedisStore{client: client, gatewayID: gatewayID}
}

func (s *RedisStore) statusKey() string {
	return fmt.Sprintf("dltcan:%s:status", s.gatewayID)
}

func (s *RedisStore) frameKey(idHex string) string {
	return fmt.Sprintf("dltcan:%s:frame:%s", s.gatewayID, idHex)
}

func (s *RedisStore) sessionKey() string {
	return fmt.Sprintf("dltcan:%s:dlt:session", s.gatewayID)
}

// SaveStatus records the last status of a component
func (s *RedisStore) SaveStatus(ctx context.Context, ev StatusEvent) error {
	return s.client.HSet(ctx, s.statusKey(), ev.Component, ev.Status, ev.Component+"_ts", ev.Timestamp).Err()
}

// SaveFrame records the last frame seen for a CAN identifier
func (s *RedisStore) SaveFrame(ctx context.Context, ev FrameEvent) error {
	key := s.frameKey(ev.IDHex)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "data", ev.Data, "extended", ev.Extended, "ts", ev.Timestamp)
	pipe.Expire(ctx, key, frameTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SaveSession records the connected DLT client, or removes it when
// sessionID is empty
func (s *RedisStore) SaveSession(ctx context.Context, sessionID, clientIP string) error {
	if sessionID == "" {
		return s.client.Del(ctx, s.sessionKey()).Err()
	}
	value := fmt.Sprintf("%s|%s", sessionID, clientIP)
	return s.client.Set(ctx, s.sessionKey(), value, sessionTTL).Err()
}

// TouchSession refreshes the DLT client session TTL
func (s *RedisStore) TouchSession(ctx context.Context) error {
	return s.client.Expire(ctx, s.sessionKey(), sessionTTL).Err()
}
