package sse

import "testing"

type fakeWriter struct {
	fd           int
	backpressure bool
	frames       [][]byte
}

func (f *fakeWriter) WriteData(streamID uint32, payload []byte, endStream bool) error {
	f.frames = append(f.frames, append([]byte{}, payload...))
	return nil
}

func (f *fakeWriter) HasWriteBackpressure() bool { return f.backpressure }
func (f *fakeWriter) FD() int                    { return f.fd }

func TestSubscribeAndForEach(t *testing.T) {
	b := NewBroadcaster()
	w1 := &fakeWriter{fd: 1}
	w2 := &fakeWriter{fd: 2, backpressure: true}

	b.Subscribe(ChannelEvents, 1, w1, 10)
	b.Subscribe(ChannelEvents, 2, w2, 11)

	var notified []int
	b.ForEachSubscriber(ChannelEvents, func(conn Writer, streamID uint32) {
		notified = append(notified, conn.FD())
	})

	if len(notified) != 1 || notified[0] != 1 {
		t.Fatalf("expected only fd=1 notified (fd=2 has backpressure), got %v", notified)
	}
}

func TestUnsubscribeAll(t *testing.T) {
	b := NewBroadcaster()
	w := &fakeWriter{fd: 5}
	b.Subscribe(ChannelEvents, 5, w, 1)
	b.Subscribe(ChannelCPU, 5, w, 2)

	if b.Count(ChannelEvents) != 1 || b.Count(ChannelCPU) != 1 {
		t.Fatalf("expected subscriptions on both channels")
	}

	b.UnsubscribeAll(5)
	if b.Count(ChannelEvents) != 0 || b.Count(ChannelCPU) != 0 {
		t.Fatalf("expected unsubscribe from all channels")
	}
}

func TestRecordMessageResetsAtMax(t *testing.T) {
	b := NewBroadcaster()
	w := &fakeWriter{fd: 7}
	b.Subscribe(ChannelEvents, 7, w, 3)

	for i := 0; i < maxMessagesPerStream-1; i++ {
		if reset := b.RecordMessage(ChannelEvents, 7); reset {
			t.Fatalf("unexpected reset at message %d", i)
		}
	}
	if reset := b.RecordMessage(ChannelEvents, 7); !reset {
		t.Fatalf("expected reset at max message count")
	}
	if b.Count(ChannelEvents) != 0 {
		t.Fatalf("expected subscriber removed after reset")
	}
}
