package ids

import (
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snowflake hands out 63-bit ids: 41 bits of milliseconds since 2020-01-01,
// 10 bits of node id, 12 bits of sequence. Ids from one generator never repeat.
type Snowflake struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
}

// NewSnowflake builds a generator; out-of-range node ids fall back to 1.
func NewSnowflake(nodeID int64) *Snowflake {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	return &Snowflake{
		epochMS: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		nodeID:  nodeID,
	}
}

func (g *Snowflake) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := time.Now().UnixMilli()
		if now < g.lastTSMS {
			// clock moved backwards, wait it out
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & 0xFFF
			if g.seq == 0 {
				for now <= g.lastTSMS {
					now = time.Now().UnixMilli()
				}
			}
		} else {
			g.seq = 0
		}
		g.lastTSMS = now

		ts := (now - g.epochMS) & ((1 << 41) - 1)
		return (ts << 22) | (g.nodeID << 12) | g.seq
	}
}

// New returns the next id in decimal form.
func (g *Snowflake) New() string {
	return strconv.FormatInt(g.Next(), 10)
}

// Generator is satisfied by Snowflake and UUID and by test stubs.
type Generator interface {
	New() string
}

// UUID produces random v4 UUIDs.
type UUID struct{}

func (UUID) New() string { return uuid.NewString() }

// RandomToken returns n bytes from crypto/rand encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
