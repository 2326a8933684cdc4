package test

import (
	"bytes"
	"context"
	"testing"

	"mini-irc/client"
	"mini-irc/message"
	"mini-irc/protocol"
)

// Single connection, one request/response at a time.
func BenchmarkSerialEcho(b *testing.B) {
	s := startServer(b)
	c := dial(b, s.Addr().String())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Echo(context.Background(), "ping"); err != nil {
			b.Fatal(err)
		}
	}
}

// One connection per goroutine; measures the server under concurrent load.
// A single connection allows only one call per tag in flight, so concurrency
// comes from fanning out connections, not from multiplexing one.
func BenchmarkConcurrentEcho(b *testing.B) {
	s := startServer(b)
	addr := s.Addr().String()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		c, err := client.Dial("tcp", addr)
		if err != nil {
			b.Error(err)
			return
		}
		defer c.Disconnect()
		for pb.Next() {
			if _, err := c.Echo(context.Background(), "ping"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// Room broadcast with a fixed audience; dominated by the fan-out loop.
func BenchmarkRoomBroadcast(b *testing.B) {
	s := startServer(b)
	addr := s.Addr().String()
	ctx := context.Background()

	sender := dial(b, addr)
	if err := sender.Identify(ctx, "sender"); err != nil {
		b.Fatal(err)
	}
	if err := sender.JoinRoom(ctx, "bench"); err != nil {
		b.Fatal(err)
	}

	for i := 0; i < 8; i++ {
		m := dial(b, addr)
		if err := m.Identify(ctx, string(rune('a'+i))); err != nil {
			b.Fatal(err)
		}
		m.AddHandler(message.TagBroadcast, func(*protocol.Frame) {})
		if err := m.JoinRoom(ctx, "bench"); err != nil {
			b.Fatal(err)
		}
	}
	sender.AddHandler(message.TagBroadcast, func(*protocol.Frame) {})

	payload := []byte("broadcast payload")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := sender.MsgRoom(ctx, "bench", payload); err != nil {
			b.Fatal(err)
		}
	}
}

// Pure wire codec, no network.
func BenchmarkFrameCodec(b *testing.B) {
	f := message.MsgRoom("bench", []byte(`{"text":"hello"}`))
	var buf bytes.Buffer

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		if err := protocol.Encode(&buf, f); err != nil {
			b.Fatal(err)
		}
		if _, err := protocol.Decode(&buf); err != nil {
			b.Fatal(err)
		}
	}
}
