package transport

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestLengthPrefixedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("session payload bytes")
	if err := writeLengthPrefixed(&buf, payload); err != nil {
		t.Fatalf("writeLengthPrefixed: %v", err)
	}
	got, err := readLengthPrefixed(&buf)
	if err != nil {
		t.Fatalf("readLengthPrefixed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got, payload)
	}
}

func TestReadLengthPrefixedRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, maxFrameSize+1)
	if err := writeLengthPrefixed(&buf, oversized); err != nil {
		t.Fatalf("writeLengthPrefixed: %v", err)
	}
	if _, err := readLengthPrefixed(&buf); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestInMemoryTransportSendDeliversToHandler(t *testing.T) {
	bus := NewInMemoryBus()
	alice := NewInMemoryTransport(bus, "alice")
	bob := NewInMemoryTransport(bus, "bob")

	received := make(chan []byte, 1)
	bob.OnMessage(func(peerID string, msg []byte) {
		if peerID != "alice" {
			t.Errorf("expected sender alice, got %s", peerID)
		}
		received <- msg
	})

	if err := alice.Send(context.Background(), "bob", []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg) != "hello" {
			t.Fatalf("unexpected payload: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestInMemoryTransportPublishBroadcastsToAllExceptSelf(t *testing.T) {
	bus := NewInMemoryBus()
	alice := NewInMemoryTransport(bus, "alice")
	bob := NewInMemoryTransport(bus, "bob")
	carol := NewInMemoryTransport(bus, "carol")

	bobGot := make(chan []byte, 1)
	carolGot := make(chan []byte, 1)
	aliceGot := make(chan []byte, 1)
	bob.OnMessage(func(_ string, msg []byte) { bobGot <- msg })
	carol.OnMessage(func(_ string, msg []byte) { carolGot <- msg })
	alice.OnMessage(func(_ string, msg []byte) { aliceGot <- msg })

	if err := alice.Publish(context.Background(), "/lotus/musig2/1.0.0", []byte("announce")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, ch := range []chan []byte{bobGot, carolGot} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast delivery")
		}
	}
	select {
	case <-aliceGot:
		t.Fatal("publisher should not receive its own broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInMemoryTransportIsConnected(t *testing.T) {
	bus := NewInMemoryBus()
	alice := NewInMemoryTransport(bus, "alice")
	_ = NewInMemoryTransport(bus, "bob")

	if !alice.IsConnected("bob") {
		t.Fatal("expected alice to be connected to bob on a shared bus")
	}
	if alice.IsConnected("mallory") {
		t.Fatal("expected alice not to be connected to an unregistered peer")
	}
}
