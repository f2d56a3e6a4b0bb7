// Package fragment splits oversized payloads into ordered, independently
// verifiable chunks sized to a channel's capacity, and reconstructs them on
// receipt. Fragments travel as CBOR envelopes inside fragment-flagged frames.
package fragment

import (
	"encoding/json"
	"errors"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"

	"dtumesh/pkg/protocol"
	"dtumesh/pkg/protocol/codec"
)

// wireOverhead reserves room for the CBOR envelope around each chunk
// (transfer id, seq/total, 32-byte hash, map framing).
const wireOverhead = 96

// Reassembly failure modes. Callers wait for more fragments or time out on
// ErrIncomplete; ErrHashMismatch means the set is poisoned and must be
// discarded — a partial or corrupt reconstruction is never returned.
var (
	ErrIncomplete   = errors.New("incomplete_fragments")
	ErrHashMismatch = errors.New("fragment_hash_mismatch")
	ErrNoCapacity   = errors.New("channel capacity below protocol overhead")
)

var wire = codec.MustCBOR()

// Fragment is one verifiable chunk of a larger payload.
type Fragment struct {
	TransferID []byte   `cbor:"1,keyasint"`
	Seq        uint16   `cbor:"2,keyasint"`
	Total      uint16   `cbor:"3,keyasint"`
	Hash       [32]byte `cbor:"4,keyasint"`
	Data       []byte   `cbor:"5,keyasint"`
}

// Marshal encodes the fragment envelope for the frame payload.
func (f *Fragment) Marshal() ([]byte, error) { return wire.Marshal(f) }

// Unmarshal decodes a fragment envelope from a frame payload.
func Unmarshal(b []byte) (Fragment, error) {
	var f Fragment
	err := wire.Unmarshal(b, &f)
	return f, err
}

// Verify recomputes the chunk hash against the declared one.
func (f *Fragment) Verify() bool { return protocol.ContentHash(f.Data) == f.Hash }

// ChunkSize returns the usable chunk size for a channel's max payload, or 0
// when the channel cannot carry a fragment at all.
func ChunkSize(maxPayloadBytes int) int {
	n := maxPayloadBytes - protocol.Overhead - wireOverhead
	if n < 1 {
		return 0
	}
	return n
}

// NeedsSplit reports whether a payload exceeds a single frame on the channel.
func NeedsSplit(payloadLen, maxPayloadBytes int) bool {
	return payloadLen > maxPayloadBytes-protocol.Overhead
}

// Count estimates how many fragments Split will produce.
func Count(payloadLen, maxPayloadBytes int) int {
	if !NeedsSplit(payloadLen, maxPayloadBytes) {
		return 1
	}
	chunk := ChunkSize(maxPayloadBytes)
	if chunk <= 0 {
		return 0
	}
	return (payloadLen + chunk - 1) / chunk
}

// Split cuts payload into hash-tagged fragments sharing a fresh transfer id.
// Valid UTF-8 payloads are never cut mid-sequence. The caller is expected to
// have checked NeedsSplit; splitting a small payload still works and yields
// a single fragment.
func Split(payload []byte, maxPayloadBytes int) ([]Fragment, error) {
	chunk := ChunkSize(maxPayloadBytes)
	if chunk <= 0 {
		return nil, ErrNoCapacity
	}
	id := uuid.New()
	textual := utf8.Valid(payload)

	var chunks [][]byte
	for start := 0; start < len(payload); {
		end := start + chunk
		if end >= len(payload) {
			end = len(payload)
		} else if textual {
			// Back off to a rune boundary, but always make progress.
			for end > start+1 && !utf8.RuneStart(payload[end]) {
				end--
			}
		}
		chunks = append(chunks, payload[start:end])
		start = end
	}
	if len(chunks) == 0 {
		chunks = [][]byte{nil}
	}

	out := make([]Fragment, len(chunks))
	for i, c := range chunks {
		data := append([]byte(nil), c...)
		out[i] = Fragment{
			TransferID: id[:],
			Seq:        uint16(i),
			Total:      uint16(len(chunks)),
			Hash:       protocol.ContentHash(data),
			Data:       data,
		}
	}
	return out, nil
}

// Result is a reconstructed payload. Structured holds the JSON value when
// the payload parses as JSON; otherwise it is nil and Payload is the raw form.
type Result struct {
	Payload    []byte
	Structured any
}

// Reassemble rebuilds the original payload from a complete fragment set.
// Fragments may arrive in any order. It fails with ErrIncomplete when the
// collected count does not match the declared total and ErrHashMismatch when
// any fragment fails verification.
func Reassemble(frags []Fragment) (*Result, error) {
	if len(frags) == 0 {
		return nil, ErrIncomplete
	}
	total := int(frags[0].Total)
	if len(frags) != total {
		return nil, ErrIncomplete
	}
	sorted := append([]Fragment(nil), frags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	var size int
	for i := range sorted {
		if int(sorted[i].Seq) != i {
			return nil, ErrIncomplete
		}
		if !sorted[i].Verify() {
			return nil, ErrHashMismatch
		}
		size += len(sorted[i].Data)
	}
	buf := make([]byte, 0, size)
	for i := range sorted {
		buf = append(buf, sorted[i].Data...)
	}
	res := &Result{Payload: buf}
	var v any
	if json.Unmarshal(buf, &v) == nil {
		res.Structured = v
	}
	return res, nil
}
