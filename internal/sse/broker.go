// Package sse implements a Server-Sent Events broker for live note updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// EventBlobChanged is published when a blob changes outside the session flows.
const EventBlobChanged = "blob.changed"

const clientBuffer = 64

var heartbeatFrame = []byte(": ping\n\n")

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// clientSet is owned by the broker loop and never touched elsewhere.
type clientSet map[chan []byte]struct{}

// send delivers frame to every client. A client whose buffer is full misses
// the frame instead of stalling the others.
func (c clientSet) send(frame []byte) {
	for ch := range c {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Broker fans events out to connected SSE clients.
//
// All client bookkeeping runs as closures on one loop goroutine, so the
// client set needs no lock.
type Broker struct {
	heartbeat time.Duration

	ops     chan func(clientSet)
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewBroker starts a broker that writes a comment frame to every client each
// heartbeat interval so idle proxies keep the stream open. A zero interval
// disables heartbeats.
func NewBroker(heartbeat time.Duration) *Broker {
	b := &Broker{
		heartbeat: heartbeat,
		ops:       make(chan func(clientSet)),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	clients := clientSet{}
	var beat <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		beat = t.C
	}

	for {
		select {
		case <-b.done:
			for ch := range clients {
				close(ch)
			}
			return
		case op := <-b.ops:
			op(clients)
		case <-beat:
			clients.send(heartbeatFrame)
		}
	}
}

// do hands op to the loop. Once accepted, op runs before any later op. It
// returns false when the broker has stopped.
func (b *Broker) do(op func(clientSet)) bool {
	select {
	case b.ops <- op:
		return true
	case <-b.stopped:
		return false
	}
}

// Close stops the loop and closes every client channel. It is safe to call
// more than once.
func (b *Broker) Close() {
	b.once.Do(func() { close(b.done) })
	<-b.stopped
}

// Subscribe registers a client. The channel is closed on Unsubscribe or
// Close; after Close it is returned already closed.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if !b.do(func(c clientSet) { c[ch] = struct{}{} }) {
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.do(func(c clientSet) {
		if _, ok := c[ch]; ok {
			delete(c, ch)
			close(ch)
		}
	})
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	n := make(chan int, 1)
	if !b.do(func(c clientSet) { n <- len(c) }) {
		return 0
	}
	return <-n
}

// Publish sends an event to all connected clients. Events whose data cannot
// be encoded are dropped.
func (b *Broker) Publish(event Event) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))
	b.do(func(c clientSet) { c.send(frame) })
}

// Notify publishes a session change.
func (b *Broker) Notify(kind string, data any) {
	b.Publish(Event{Type: kind, Data: data})
}

// PublishBlobChange publishes a blob written or removed out of band.
func (b *Broker) PublishBlobChange(kind, key string) {
	b.Publish(Event{Type: EventBlobChanged, Data: map[string]string{"kind": kind, "key": key}})
}

// ServeHTTP streams events to one client until it disconnects or the broker
// closes (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, open := <-ch:
			if !open {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
