package relay

import (
	"bytes"
	"testing"
	"time"
)

func TestFrameHubPublishThenNext(t *testing.T) {
	registry := NewClientRegistry(0)
	running := NewRunning()
	hub := NewFrameHub(MinFrameCapacity, registry, running)

	session := newTestSession(0)
	registry.Insert(session)

	frame := []byte("\xFF\xD8fake-jpeg-data\xFF\xD9")
	hub.Publish(frame)

	length, ok := hub.Next(session)
	if !ok {
		t.Fatal("Next returned ok=false after a publication")
	}
	if length != len(frame) {
		t.Fatalf("got length %d, want %d", length, len(frame))
	}
	if !bytes.Equal(session.scratch[:length], frame) {
		t.Fatalf("got scratch %q, want %q", session.scratch[:length], frame)
	}
	if session.ready {
		t.Fatal("Next should clear the session's ready flag")
	}
}

func TestFrameHubNextBlocksUntilPublish(t *testing.T) {
	registry := NewClientRegistry(0)
	running := NewRunning()
	hub := NewFrameHub(MinFrameCapacity, registry, running)

	session := newTestSession(0)
	registry.Insert(session)

	done := make(chan int, 1)
	go func() {
		length, ok := hub.Next(session)
		if !ok {
			done <- -1
			return
		}
		done <- length
	}()

	select {
	case <-done:
		t.Fatal("Next returned before any publication")
	case <-time.After(20 * time.Millisecond):
	}

	frame := []byte("second-frame")
	hub.Publish(frame)

	select {
	case length := <-done:
		if length != len(frame) {
			t.Fatalf("got length %d, want %d", length, len(frame))
		}
	case <-time.After(time.Second):
		t.Fatal("Next never returned after Publish")
	}
}

func TestFrameHubNextReturnsFalseOnShutdown(t *testing.T) {
	registry := NewClientRegistry(0)
	running := NewRunning()
	hub := NewFrameHub(MinFrameCapacity, registry, running)

	session := newTestSession(0)
	registry.Insert(session)
	running.Stop()

	_, ok := hub.Next(session)
	if ok {
		t.Fatal("Next should report ok=false once shutdown is observed and no frame was ever published")
	}
}

func TestFrameHubWakeAllLetsBlockedSessionDrainLastFrame(t *testing.T) {
	// Mirrors the original client.c shutdown race: a session already
	// waiting when WakeAll fires still gets to copy the current frame
	// once before its caller checks running again and stops.
	registry := NewClientRegistry(0)
	running := NewRunning()
	hub := NewFrameHub(MinFrameCapacity, registry, running)

	session := newTestSession(0)
	registry.Insert(session)
	hub.Publish([]byte("last-frame"))
	// Drain the one publication so the session goes back to waiting.
	if _, ok := hub.Next(session); !ok {
		t.Fatal("setup publish should have been observed")
	}

	done := make(chan bool, 1)
	go func() {
		_, ok := hub.Next(session)
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)

	running.Stop()
	hub.WakeAll()

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("a session woken by WakeAll should still observe ok=true for the forced wakeup")
		}
	case <-time.After(time.Second):
		t.Fatal("Next never returned after WakeAll")
	}
}
