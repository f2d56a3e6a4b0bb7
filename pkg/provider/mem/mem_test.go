package mem

import (
	"context"
	"testing"

	"dtumesh/pkg/channel"
	"dtumesh/pkg/relay"
)

func TestTransmitToLink(t *testing.T) {
	p := New(channel.KindInternet)
	var got []byte
	p.Connect("bravo", func(frame []byte) error { got = frame; return nil })

	if err := p.Transmit(context.Background(), "bravo", []byte("hi")); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if string(got) != "hi" {
		t.Fatalf("got %q", got)
	}
	if err := p.Transmit(context.Background(), "nobody", []byte("hi")); err == nil {
		t.Fatalf("unknown destination accepted")
	}
}

func TestBroadcastFansOut(t *testing.T) {
	p := New(channel.KindBluetoothLE)
	hits := 0
	p.Connect("b", func([]byte) error { hits++; return nil })
	p.Connect("c", func([]byte) error { hits++; return nil })

	if err := p.Transmit(context.Background(), relay.Broadcast, []byte("x")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if hits != 2 {
		t.Fatalf("broadcast reached %d links", hits)
	}

	p.Disconnect("b")
	p.Disconnect("c")
	if err := p.Transmit(context.Background(), relay.Broadcast, []byte("x")); err == nil {
		t.Fatalf("broadcast with no links accepted")
	}
}

func TestTransmitHonorsContext(t *testing.T) {
	p := New(channel.KindInternet)
	p.Connect("b", func([]byte) error { t.Fatal("sink called"); return nil })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Transmit(ctx, "b", []byte("x")); err == nil {
		t.Fatalf("cancelled context accepted")
	}
}
