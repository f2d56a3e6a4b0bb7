// dtumesh-frame encodes payloads into hex wire frames and decodes/inspects
// frames captured off any channel. Debug tool, not part of the node.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"unicode/utf8"

	"dtumesh/pkg/protocol"
)

func main() {
	encode := flag.String("encode", "", "payload to encode into a frame")
	decode := flag.String("decode", "", "hex frame to decode and inspect")
	priority := flag.Uint("priority", 3, "priority class 0..7 (0 = most urgent)")
	ttl := flag.Uint("ttl", uint(protocol.DefaultTTL), "hop budget")
	source := flag.String("source", "local", "source node id (first 4 bytes go on the wire)")
	emergency := flag.Bool("emergency", false, "set the emergency flag")
	flag.Parse()

	switch {
	case *encode != "":
		var flags uint8
		if *emergency {
			flags |= protocol.FlagEmergency
		}
		frame, err := protocol.Encode([]byte(*encode), uint8(*priority), uint8(*ttl), flags,
			protocol.SourceID(*source), 0, 1)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%d bytes (%d payload + %d overhead)\n", len(frame), len(*encode), protocol.Overhead)
		fmt.Println(groupedHex(frame))
	case *decode != "":
		buf, err := hex.DecodeString(strings.Join(strings.Fields(*decode), ""))
		if err != nil {
			log.Fatal(err)
		}
		d, err := protocol.Decode(buf)
		if err != nil {
			fmt.Println("rejected:", err)
			os.Exit(1)
		}
		printFrame(d)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printFrame(d protocol.Decoded) {
	h := d.Header
	fmt.Printf("version    %d\n", h.Version)
	fmt.Printf("priority   %d\n", h.Priority)
	fmt.Printf("ttl        %d\n", h.TTL)
	fmt.Printf("flags      fragment=%v relay=%v emergency=%v encrypted=%v\n",
		d.Fragment, d.Relay, d.Emergency, d.Encrypted)
	fmt.Printf("source     %q\n", strings.TrimRight(string(h.SourceID[:]), "\x00"))
	fmt.Printf("hash       %s (prefix)\n", hex.EncodeToString(h.HashPrefix[:]))
	fmt.Printf("fragment   %d/%d\n", h.FragSeq, h.FragTotal)
	fmt.Printf("payload    %d bytes\n", h.PayloadLen)
	if utf8.Valid(d.Payload) {
		fmt.Printf("content    %s\n", d.Payload)
	} else {
		fmt.Printf("content    %s\n", groupedHex(d.Payload))
	}
}

func groupedHex(b []byte) string {
	enc := hex.EncodeToString(b)
	var out []string
	for i := 0; i < len(enc); i += 4 {
		j := i + 4
		if j > len(enc) {
			j = len(enc)
		}
		out = append(out, enc[i:j])
	}
	return strings.Join(out, " ")
}
