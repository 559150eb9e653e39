package directory

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

const rosterKey = "providers"

// RedisDirectory stores one hash per provider plus a roster set. Layout:
//
//	providers                 SET of provider ids
//	provider:meta:<id>        HASH online, capabilities (csv), last_seen (RFC3339)
type RedisDirectory struct {
	client   *redis.Client
	liveness time.Duration
}

func NewRedisDirectory(addr, password string, liveness time.Duration) *RedisDirectory {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisDirectory{client: c, liveness: liveness}
}

// NewRedisDirectoryFromClient wires an existing client, used by the
// heartbeat consumer which shares its connection with the readiness probe.
func NewRedisDirectoryFromClient(c *redis.Client, liveness time.Duration) *RedisDirectory {
	return &RedisDirectory{client: c, liveness: liveness}
}

func (r *RedisDirectory) Heartbeat(ctx context.Context, p models.Provider) error {
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now()
	}
	if err := r.client.SAdd(ctx, rosterKey, p.ID).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(p.ID), map[string]interface{}{
		"online":       strconv.FormatBool(p.Online),
		"capabilities": strings.Join(p.Capabilities, ","),
		"last_seen":    p.LastSeen.Format(time.RFC3339),
	}).Err()
}

func (r *RedisDirectory) Eligible(ctx context.Context, tag string, relaxed bool) ([]string, error) {
	ids, err := r.client.SMembers(ctx, rosterKey).Result()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-r.liveness)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		m, err := r.client.HGetAll(ctx, metaKey(id)).Result()
		if err != nil || len(m) == 0 {
			continue
		}
		p := models.Provider{ID: id}
		p.Online = m["online"] == "true"
		if m["capabilities"] != "" {
			p.Capabilities = strings.Split(m["capabilities"], ",")
		}
		if ts, err := time.Parse(time.RFC3339, m["last_seen"]); err == nil {
			p.LastSeen = ts
		}
		if !live(p, cutoff) {
			continue
		}
		if !relaxed && !p.Has(tag) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func metaKey(id string) string { return "provider:meta:" + id }
