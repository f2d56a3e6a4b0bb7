package protocol

// Flags bitmask (uint8)
const (
	FlagFragment  uint8 = 1 << 0 // frame carries one fragment of a larger payload
	FlagRelay     uint8 = 1 << 1 // frame was (or may be) forwarded by an intermediate node
	FlagEmergency uint8 = 1 << 2 // emergency traffic, always rebroadcast
	FlagEncrypted uint8 = 1 << 3 // payload encrypted by the content layer
)

// Priority bounds. 0 is the most urgent class.
const (
	PriorityHighest uint8 = 0
	PriorityLowest  uint8 = 7
)

// DefaultTTL is the hop budget assigned to locally originated frames.
const DefaultTTL uint8 = 8

// Version is the current wire protocol version.
const Version uint8 = 1
