// Package sse implements the four-channel server-sent-event broadcaster.
// It is grounded on the original internal/sse.Hub (channel-based
// fan-out, RWMutex-guarded subscriber set) but, unlike the original
// server, writes raw HTTP/2 DATA frames rather than using net/http's
// Flusher — this server has no net/http handler chain, only the frame
// codec in internal/http2codec.
package sse

import (
	"sync"
	"time"
)

// Channel identifies one of the four SSE feeds.
type Channel int

const (
	ChannelEvents Channel = iota
	ChannelCPU
	ChannelMemory
	ChannelRedirect
	channelCount
)

// ThrottleIntervals maps each channel to its minimum emit interval.
var ThrottleIntervals = map[Channel]time.Duration{
	ChannelEvents:   2 * time.Second,
	ChannelCPU:      5 * time.Second,
	ChannelMemory:   60 * time.Second,
	ChannelRedirect: 1 * time.Second,
}

// Writer is satisfied by *server.Connection: write a raw DATA frame for
// a stream, with END_STREAM when the channel resets.
type Writer interface {
	WriteData(streamID uint32, payload []byte, endStream bool) error
	HasWriteBackpressure() bool
	FD() int
}

const (
	maxMessagesPerStream = 10000
	maxStreamAge         = 24 * time.Hour
)

type subscriber struct {
	fd       int
	conn     Writer
	streamID uint32
	count    int
	start    time.Time
}

// Broadcaster multiplexes the four SSE channels across many
// connections, matching SSEBroadcaster::subscribe/unsubscribe_all/
// for_each_subscriber in the original.
type Broadcaster struct {
	mu   sync.RWMutex
	subs [channelCount]map[int]*subscriber
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{}
	for i := range b.subs {
		b.subs[i] = make(map[int]*subscriber)
	}
	return b
}

// Subscribe registers fd/conn/stream on a channel, replacing any prior
// subscription for that fd on the same channel.
func (b *Broadcaster) Subscribe(channel Channel, fd int, conn Writer, streamID uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel][fd] = &subscriber{fd: fd, conn: conn, streamID: streamID, start: time.Now()}
}

// UnsubscribeAll removes fd from every channel, used on connection close.
func (b *Broadcaster) UnsubscribeAll(fd int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.subs {
		delete(m, fd)
	}
}

// ForEachSubscriber invokes fn for every subscriber on a channel,
// skipping connections with write backpressure, matching the original's
// for_each_subscriber + has_write_backpressure skip.
func (b *Broadcaster) ForEachSubscriber(channel Channel, fn func(conn Writer, streamID uint32)) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs[channel]))
	for _, s := range b.subs[channel] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if s.conn.HasWriteBackpressure() {
			continue
		}
		fn(s.conn, s.streamID)
	}
}

// RecordMessage increments a subscriber's message counter and reports
// whether the max-messages/max-age reset threshold has been reached,
// in which case the subscriber is removed from the channel and the
// caller should emit a DATA frame with END_STREAM.
func (b *Broadcaster) RecordMessage(channel Channel, fd int) (shouldReset bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[channel][fd]
	if !ok {
		return false
	}
	s.count++
	if s.count >= maxMessagesPerStream || time.Since(s.start) >= maxStreamAge {
		delete(b.subs[channel], fd)
		return true
	}
	return false
}

// Count returns the number of subscribers on a channel (diagnostics/tests).
func (b *Broadcaster) Count(channel Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}
