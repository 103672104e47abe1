package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inkwelldata/docpipe/internal/identity"
)

// Cached is a read-through decorator keyed by content hash and embedding
// generation. Identical text under the same (model, version) never hits the
// backend twice while the entry lives. Redis outages degrade to pass-through.
type Cached struct {
	next   Embedder
	client *redis.Client
	ttl    time.Duration
}

func WithCache(next Embedder, client *redis.Client, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cached{next: next, client: client, ttl: ttl}
}

func (c *Cached) Model() string   { return c.next.Model() }
func (c *Cached) Version() string { return c.next.Version() }
func (c *Cached) Dimension() int  { return c.next.Dimension() }

func (c *Cached) key(text string) string {
	return fmt.Sprintf("emb:%s:%s:%s", c.next.Model(), c.next.Version(), identity.ContentHash([]byte(text)))
}

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		val, err := c.client.Get(ctx, c.key(text)).Result()
		if err == nil {
			var vec []float32
			if json.Unmarshal([]byte(val), &vec) == nil {
				vectors[i] = vec
				continue
			}
		} else if !errors.Is(err, redis.Nil) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	fresh, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(fresh), len(missTexts))
	}

	for j, vec := range fresh {
		vectors[missIdx[j]] = vec
		if data, err := json.Marshal(vec); err == nil {
			// Best effort; a failed write just means a miss next time.
			c.client.Set(ctx, c.key(missTexts[j]), data, c.ttl)
		}
	}
	return vectors, nil
}
