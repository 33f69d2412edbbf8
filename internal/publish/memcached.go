package publish

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/wx-station-poller/internal/models"
)

// DefaultMemcachedKey is the key the latest record is stored under.
const DefaultMemcachedKey = "wx:latest"

// maxRelativeExp is the largest expiration memcached treats as relative (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// Memcached stores the latest record under a single key so other processes
// can read current conditions without touching the station.
type Memcached struct {
	client *memcache.Client
	key    string
	expSec int32
}

// NewMemcached creates a Memcached publisher. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). ttl 0 means no expiry.
func NewMemcached(addrs, key string, ttl, timeout time.Duration, maxIdleConns int) (*Memcached, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, errors.New("publish: no memcached servers configured")
	}
	if key == "" {
		key = DefaultMemcachedKey
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &Memcached{client: client, key: key, expSec: expiration(ttl)}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func expiration(ttl time.Duration) int32 {
	sec := int64(ttl / time.Second)
	if sec <= 0 {
		return 0
	}
	if sec > maxRelativeExp {
		return maxRelativeExp
	}
	return int32(sec)
}

// Name implements Publisher.
func (m *Memcached) Name() string { return "memcached" }

// Publish sets the key to the record for r.
func (m *Memcached) Publish(ctx context.Context, r models.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := r.MarshalJSON()
	if err != nil {
		return err
	}
	return m.client.Set(&memcache.Item{
		Key:        m.key,
		Value:      raw,
		Expiration: m.expSec,
	})
}

// Latest returns the stored record. Returns false, nil on a miss.
func (m *Memcached) Latest(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	item, err := m.client.Get(m.key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item.Value, true, nil
}

// Ping checks that memcached is reachable.
func (m *Memcached) Ping() error {
	return m.client.Ping()
}

// Close closes idle client connections. Call during shutdown.
func (m *Memcached) Close() error {
	return m.client.Close()
}
