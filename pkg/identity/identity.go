// Package identity provides the local node id.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"
)

// NodeIDLen is the canonical id length; the wire header carries a 4-byte
// truncation of it.
const NodeIDLen = 8

// LoadOrGen returns the configured node id, or generates a fresh random one.
// A generated id is random per process start, not derived from hardware
// identity: peers will not recognize this node across restarts unless the id
// is pinned in configuration.
func LoadOrGen(configured string) string {
	if s := strings.TrimSpace(configured); s != "" {
		return normalize(s)
	}
	var b [NodeIDLen / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is unrecoverable for anything else anyway
		panic(err)
	}
	id := hex.EncodeToString(b[:])
	zap.L().Info("generated ephemeral node id (pin node_id in config for a stable identity)",
		zap.String("node_id", id))
	return id
}

func normalize(s string) string {
	if len(s) > NodeIDLen {
		return s[:NodeIDLen]
	}
	return s
}
