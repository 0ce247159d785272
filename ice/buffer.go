// Package ice orders remote ICE candidates relative to the remote description.
package ice

import (
	"log/slog"

	"github.com/pion/webrtc/v4"

	"peercall/metric"
)

// Applier applies a remote candidate to a connection.
type Applier interface {
	AddICECandidate(candidate webrtc.ICECandidateInit) error
}

// Buffer holds remote candidates that arrive before the remote description of
// one call attempt. It is not safe for concurrent use.
type Buffer struct {
	conn    Applier
	metric  *metric.Metrics
	logger  *slog.Logger
	pending []webrtc.ICECandidateInit
	ready   bool
	dropped bool
}

// NewBuffer creates a buffer bound to conn.
func NewBuffer(conn Applier, m *metric.Metrics) *Buffer {
	return &Buffer{
		conn:   conn,
		metric: m,
		logger: slog.Default().With("component", "ice"),
	}
}

// Offer applies candidate immediately once the remote description is set,
// otherwise queues it.
func (b *Buffer) Offer(candidate webrtc.ICECandidateInit) {
	if b.dropped {
		return
	}
	if !b.ready {
		b.pending = append(b.pending, candidate)
		b.metric.IncCandidates("buffered")
		return
	}
	b.apply(candidate)
}

// Flush marks the remote description as set and applies the queued
// candidates in arrival order. Only the first call has an effect.
func (b *Buffer) Flush() {
	if b.ready || b.dropped {
		return
	}
	b.ready = true

	pending := b.pending
	b.pending = nil
	for _, c := range pending {
		b.apply(c)
	}
}

// Pending returns the number of queued candidates.
func (b *Buffer) Pending() int {
	return len(b.pending)
}

// RemoteDescriptionSet reports whether Flush has run.
func (b *Buffer) RemoteDescriptionSet() bool {
	return b.ready
}

// Discard drops the queued candidates. Later Offer and Flush calls are ignored.
func (b *Buffer) Discard() {
	b.pending = nil
	b.dropped = true
}

func (b *Buffer) apply(c webrtc.ICECandidateInit) {
	if err := b.conn.AddICECandidate(c); err != nil {
		b.logger.Warn("skipping candidate", "candidate", c.Candidate, "err", err)
		b.metric.IncCandidates("failed")
		return
	}
	b.metric.IncCandidates("applied")
}
