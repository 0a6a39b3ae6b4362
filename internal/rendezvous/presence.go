package rendezvous

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence mirrors room membership into a store other processes can read.
type Presence interface {
	Join(ctx context.Context, roomID, socketID string) error
	Leave(ctx context.Context, roomID, socketID string) error
	Count(ctx context.Context, roomID string) (int, error)
}

// MemoryPresence keeps membership in process.
type MemoryPresence struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

// NewMemoryPresence creates an empty in-process store.
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{rooms: make(map[string]map[string]struct{})}
}

func (p *MemoryPresence) Join(_ context.Context, roomID, socketID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	members, ok := p.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		p.rooms[roomID] = members
	}
	members[socketID] = struct{}{}
	return nil
}

func (p *MemoryPresence) Leave(_ context.Context, roomID, socketID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms[roomID], socketID)
	if len(p.rooms[roomID]) == 0 {
		delete(p.rooms, roomID)
	}
	return nil
}

func (p *MemoryPresence) Count(_ context.Context, roomID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms[roomID]), nil
}

// presenceTTL expires room sets left behind by a crashed relay.
const presenceTTL = 24 * time.Hour

// RedisPresence keeps membership in "room:<id>:peers" sets.
type RedisPresence struct {
	client *redis.Client
}

// NewRedisPresence connects to Redis and checks the connection.
func NewRedisPresence(ctx context.Context, opts *redis.Options) (*RedisPresence, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}
	return &RedisPresence{client: client}, nil
}

func roomKey(roomID string) string {
	return "room:" + roomID + ":peers"
}

func (p *RedisPresence) Join(ctx context.Context, roomID, socketID string) error {
	key := roomKey(roomID)
	pipe := p.client.TxPipeline()
	pipe.SAdd(ctx, key, socketID)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence join %s: %w", roomID, err)
	}
	return nil
}

func (p *RedisPresence) Leave(ctx context.Context, roomID, socketID string) error {
	if err := p.client.SRem(ctx, roomKey(roomID), socketID).Err(); err != nil {
		return fmt.Errorf("presence leave %s: %w", roomID, err)
	}
	return nil
}

func (p *RedisPresence) Count(ctx context.Context, roomID string) (int, error) {
	n, err := p.client.SCard(ctx, roomKey(roomID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence count %s: %w", roomID, err)
	}
	return int(n), nil
}

// Close releases the Redis connection pool.
func (p *RedisPresence) Close() error {
	return p.client.Close()
}
