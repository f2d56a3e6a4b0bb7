package channel

// Kind identifies one of the transport mediums a frame can travel over.
type Kind int

const (
	KindUnknown Kind = iota
	KindInternet
	KindWifiDirect
	KindBluetoothLE
	KindLoRaMesh
	KindPacketRadio
	KindModem
	KindProximity
)

func (k Kind) String() string {
	switch k {
	case KindInternet:
		return "internet"
	case KindWifiDirect:
		return "wifi:direct"
	case KindBluetoothLE:
		return "ble"
	case KindLoRaMesh:
		return "lora:mesh"
	case KindPacketRadio:
		return "packet-radio"
	case KindModem:
		return "modem"
	case KindProximity:
		return "proximity"
	default:
		return "unknown"
	}
}

// Bandwidth classifies a channel's sustained throughput.
type Bandwidth int

const (
	BandwidthLow Bandwidth = iota
	BandwidthMedium
	BandwidthHigh
)

func (b Bandwidth) String() string {
	switch b {
	case BandwidthHigh:
		return "high"
	case BandwidthMedium:
		return "medium"
	default:
		return "low"
	}
}

// Spec is the immutable capability record for a medium. Availability is not
// part of the spec; it is a live flag kept by the Registry and only ever set
// by an external detector.
type Spec struct {
	Kind       Kind
	Range      string // human description of reach
	Speed      Bandwidth
	Priority   int // lower = preferred when otherwise equal
	MaxPayload int // bytes a single transmission unit can carry
	Hardware   bool // needs special hardware (radio, modem card)
	Infra      bool // needs external infrastructure (ISP, phone network)
}

// Specs is the fixed capability table for the seven known mediums, in
// registry order. Routing tie-breaks follow this order.
var Specs = []Spec{
	{Kind: KindInternet, Range: "global", Speed: BandwidthHigh, Priority: 1, MaxPayload: 1 << 20, Infra: true},
	{Kind: KindWifiDirect, Range: "~200m", Speed: BandwidthHigh, Priority: 2, MaxPayload: 64 << 10},
	{Kind: KindBluetoothLE, Range: "~100m", Speed: BandwidthMedium, Priority: 3, MaxPayload: 512},
	{Kind: KindLoRaMesh, Range: "~15km", Speed: BandwidthLow, Priority: 4, MaxPayload: 242, Hardware: true},
	{Kind: KindPacketRadio, Range: "~50km", Speed: BandwidthLow, Priority: 5, MaxPayload: 256, Hardware: true},
	{Kind: KindModem, Range: "global", Speed: BandwidthLow, Priority: 6, MaxPayload: 1024, Infra: true},
	{Kind: KindProximity, Range: "<1m", Speed: BandwidthLow, Priority: 7, MaxPayload: 4096},
}

// SpecFor returns the capability record for a kind.
func SpecFor(k Kind) (Spec, bool) {
	for _, s := range Specs {
		if s.Kind == k {
			return s, true
		}
	}
	return Spec{}, false
}
