package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chasef07/marketplace/pkg/models"
)

// Feed stores derived notifications per recipient. Add must be idempotent on
// (recipient, kind, negotiation, offer): replaying a transition never
// duplicates a notification, while distinct events about the same offer all
// get through.
type Feed interface {
	Add(ctx context.Context, n models.Notification) error
	List(ctx context.Context, recipient string, limit int) ([]models.Notification, error)
}

// DefaultFeedTTL is how long a recipient's feed entries are retained.
const DefaultFeedTTL = 30 * 24 * time.Hour

// RedisFeed keeps each recipient's notifications in a sorted set scored by
// creation time, with a SETNX marker per dedup key.
type RedisFeed struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisFeed creates a feed on the given client. A non-positive ttl falls
// back to DefaultFeedTTL.
func NewRedisFeed(rdb *redis.Client, ttl time.Duration) *RedisFeed {
	if ttl <= 0 {
		ttl = DefaultFeedTTL
	}
	return &RedisFeed{rdb: rdb, ttl: ttl}
}

func feedKey(recipient string) string {
	return fmt.Sprintf("notifications:feed:%s", recipient)
}

func dedupKey(n models.Notification) string {
	return fmt.Sprintf("notifications:seen:%s:%s:%s:%s", n.Recipient, n.Kind, n.NegotiationID, n.OfferID)
}

func (f *RedisFeed) Add(ctx context.Context, n models.Notification) error {
	first, err := f.rdb.SetNX(ctx, dedupKey(n), 1, f.ttl).Result()
	if err != nil {
		return fmt.Errorf("notification dedup check: %w", err)
	}
	if !first {
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	key := feedKey(n.Recipient)
	pipe := f.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(n.CreatedAt.UnixNano()), Member: payload})
	pipe.Expire(ctx, key, f.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

func (f *RedisFeed) List(ctx context.Context, recipient string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := f.rdb.ZRevRange(ctx, feedKey(recipient), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read notification feed: %w", err)
	}
	out := make([]models.Notification, 0, len(raw))
	for _, r := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// MemoryFeed is the in-process Feed used by tests and single-node setups.
type MemoryFeed struct {
	mu   sync.Mutex
	seen map[string]bool
	byRc map[string][]models.Notification
}

// NewMemoryFeed creates an empty in-memory feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		seen: make(map[string]bool),
		byRc: make(map[string][]models.Notification),
	}
}

func (f *MemoryFeed) Add(_ context.Context, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := dedupKey(n)
	if f.seen[key] {
		return nil
	}
	f.seen[key] = true
	f.byRc[n.Recipient] = append(f.byRc[n.Recipient], n)
	return nil
}

func (f *MemoryFeed) List(_ context.Context, recipient string, limit int) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all := f.byRc[recipient]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	// Newest first.
	out := make([]models.Notification, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
