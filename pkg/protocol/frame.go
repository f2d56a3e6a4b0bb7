package protocol

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
)

// Fixed header layout (20 bytes) for fast parsing over any channel.
// All integer fields are little-endian.
//
//  0  ..1   Magic   'D''T' (0x4454)
//  2        Version u8
//  3        Priority u8 (0 = highest)
//  4        TTL     u8
//  5        Flags   u8
//  6  ..9   ContentHashPrefix [4]byte
//  10 ..13  SourceID [4]byte (UTF-8 node id, truncated)
//  14 ..15  FragSeq   u16
//  16 ..17  FragTotal u16
//  18 ..19  PayloadLen u16
//
// The header is followed by the payload and a trailing CRC-16 computed over
// every preceding byte (header + payload).
const (
	HeaderSize = 20
	Overhead   = HeaderSize + 2 // header + trailing CRC
	magicWord  = uint16(0x4454) // 'D''T'

	// MaxPayload is the largest payload a single frame can carry (u16 length).
	MaxPayload = 1<<16 - 1
)

// Frame-level rejection reasons. Per the wire contract these are the only
// two ways a structurally complete frame can be refused.
var (
	ErrInvalidMagic = errors.New("invalid_magic")
	ErrCRCMismatch  = errors.New("crc_mismatch")
	// ErrTruncated marks a buffer too short to contain a frame at all.
	ErrTruncated = errors.New("truncated frame")
)

// Header describes frame metadata.
type Header struct {
	Version    uint8
	Priority   uint8
	TTL        uint8
	Flags      uint8
	HashPrefix [4]byte
	SourceID   [4]byte
	FragSeq    uint16
	FragTotal  uint16
	PayloadLen uint16
}

// Frame is a header + payload pair ready for wire encoding.
type Frame struct {
	Header  Header
	Payload []byte
}

// Decoded is the result of a successful Decode: the payload plus per-flag
// booleans so receivers never touch the bitmask directly.
type Decoded struct {
	Header    Header
	Payload   []byte
	Fragment  bool
	Relay     bool
	Emergency bool
	Encrypted bool
}

// ContentHash returns the SHA-256 digest of a payload.
func ContentHash(payload []byte) [32]byte { return sha256.Sum256(payload) }

// HashHex returns the full hex content hash used as the dedup key.
func HashHex(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// SourceID truncates a node id string to the 4 bytes carried on the wire.
func SourceID(nodeID string) (out [4]byte) {
	copy(out[:], nodeID)
	return
}

// Encode builds a complete wire frame: header, payload, trailing CRC.
// The content hash prefix is always recomputed from the payload.
func Encode(payload []byte, priority, ttl, flags uint8, source [4]byte, fragSeq, fragTotal uint16) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, errors.New("payload exceeds frame capacity")
	}
	if priority > PriorityLowest {
		priority = PriorityLowest
	}
	sum := ContentHash(payload)

	buf := make([]byte, HeaderSize+len(payload)+2)
	binary.LittleEndian.PutUint16(buf[0:2], magicWord)
	buf[2] = Version
	buf[3] = priority
	buf[4] = ttl
	buf[5] = flags
	copy(buf[6:10], sum[:4])
	copy(buf[10:14], source[:])
	binary.LittleEndian.PutUint16(buf[14:16], fragSeq)
	binary.LittleEndian.PutUint16(buf[16:18], fragTotal)
	binary.LittleEndian.PutUint16(buf[18:20], uint16(len(payload)))
	copy(buf[HeaderSize:], payload)

	crc := Checksum(buf[:HeaderSize+len(payload)])
	binary.LittleEndian.PutUint16(buf[HeaderSize+len(payload):], crc)
	return buf, nil
}

// EncodeFrame encodes a Frame value. Payload length and hash prefix are
// derived from the payload, not trusted from the header.
func (f *Frame) EncodeFrame() ([]byte, error) {
	return Encode(f.Payload, f.Header.Priority, f.Header.TTL, f.Header.Flags,
		f.Header.SourceID, f.Header.FragSeq, f.Header.FragTotal)
}

// Decode parses and verifies a wire frame. It rejects with ErrInvalidMagic
// when the magic constant does not match and ErrCRCMismatch when the trailing
// CRC differs from one recomputed over header + payload. Payload content is
// never interpreted here.
func Decode(buf []byte) (Decoded, error) {
	var d Decoded
	if len(buf) < Overhead {
		return d, ErrTruncated
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != magicWord {
		return d, ErrInvalidMagic
	}
	h := Header{
		Version:    buf[2],
		Priority:   buf[3],
		TTL:        buf[4],
		Flags:      buf[5],
		FragSeq:    binary.LittleEndian.Uint16(buf[14:16]),
		FragTotal:  binary.LittleEndian.Uint16(buf[16:18]),
		PayloadLen: binary.LittleEndian.Uint16(buf[18:20]),
	}
	copy(h.HashPrefix[:], buf[6:10])
	copy(h.SourceID[:], buf[10:14])

	end := HeaderSize + int(h.PayloadLen)
	if end+2 > len(buf) {
		return d, ErrTruncated
	}
	want := binary.LittleEndian.Uint16(buf[end : end+2])
	if Checksum(buf[:end]) != want {
		return d, ErrCRCMismatch
	}

	d.Header = h
	d.Payload = append([]byte(nil), buf[HeaderSize:end]...)
	d.Fragment = h.Flags&FlagFragment != 0
	d.Relay = h.Flags&FlagRelay != 0
	d.Emergency = h.Flags&FlagEmergency != 0
	d.Encrypted = h.Flags&FlagEncrypted != 0
	return d, nil
}

// HasFlag checks whether a flag is set on the frame.
func (f *Frame) HasFlag(flag uint8) bool { return f.Header.Flags&flag != 0 }

// SetFlag sets/unsets a flag.
func (f *Frame) SetFlag(flag uint8, on bool) {
	if on {
		f.Header.Flags |= flag
	} else {
		f.Header.Flags &^= flag
	}
}
