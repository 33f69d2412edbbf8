package publish

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddrs(t *testing.T) {
	assert.Equal(t, []string{"a:11211", "b:11211"}, parseAddrs(" a:11211, ,b:11211 "))
	assert.Empty(t, parseAddrs(""))
}

func TestExpiration(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{0, 0},
		{-time.Second, 0},
		{500 * time.Millisecond, 0},
		{90 * time.Second, 90},
		{31 * 24 * time.Hour, maxRelativeExp},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expiration(tt.ttl), "ttl %v", tt.ttl)
	}
}

func TestNewMemcached(t *testing.T) {
	_, err := NewMemcached(" , ", "", 0, 0, 0)
	assert.Error(t, err)

	m, err := NewMemcached("localhost:11211", "", time.Minute, 100*time.Millisecond, 2)
	require.NoError(t, err)
	assert.Equal(t, DefaultMemcachedKey, m.key)
	assert.Equal(t, int32(60), m.expSec)
	assert.Equal(t, "memcached", m.Name())
}
