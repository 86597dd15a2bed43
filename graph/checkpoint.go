package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) // #nosec G404 -- ID entropy, not security
)

// NewCheckpointID returns a lexically sortable checkpoint ID. ULIDs sort by
// creation time, which keeps per-thread checkpoint enumeration ordered
// without a secondary index.
func NewCheckpointID(now time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), ulidEntropy).String()
}

// idempotencyKey hashes (threadID, ns, superstep, nodeID, state) so a
// re-executed superstep after crash recovery produces the same key and the
// store can reject the duplicate commit.
func idempotencyKey[S any](threadID, ns string, superstep int, nodeID string, state S) (string, error) {
	h := sha256.New()
	h.Write([]byte(threadID))
	h.Write([]byte{0})
	h.Write([]byte(ns))

	var step [8]byte
	binary.BigEndian.PutUint64(step[:], uint64(superstep))
	h.Write(step[:])
	h.Write([]byte(nodeID))

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	h.Write(stateJSON)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
