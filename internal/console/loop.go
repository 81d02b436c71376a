package console

import (
	"context"
	"errors"
	"io"
	"time"

	ncerr "ptyd/internal/errors"
	"ptyd/util"
)

// run is the session loop.  It is the only goroutine that reads the
// master.  Each iteration sleeps for PollInterval (cut short by a queued
// keystroke), reads one chunk, emits it, then forwards queued keystrokes.
// An iteration whose read filled the chunk schedules the next one
// immediately so bulk output is not throttled to one chunk per interval.
func (s *Session) run(ctx context.Context, p *process, done chan struct{}) {
	defer close(done)

	s.setLoopState(LoopRunning)
	s.emit(TagOutput, MsgOpen)

	bufp := util.GetBuf()
	defer util.PutBuf(bufp)
	chunk := (*bufp)[:s.opts.ReadChunk]

	var (
		bb    BoundaryBuffer
		cause error
	)

	timer := time.NewTimer(s.opts.PollInterval)
	defer timer.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			cause = ctx.Err()
			break loop
		case <-timer.C:
		case <-s.oob.Wake():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if !s.tr.IsLive() {
			cause = errNotLive
			break loop
		}

		n, err := p.term.ReadNonblock(chunk)
		if n > 0 {
			if out := bb.Process(chunk[:n]); len(out) > 0 {
				if !s.emit(TagOutput, string(out)) {
					cause = errNotLive
					break loop
				}
				s.opts.Metrics.OutputEmitted(int64(len(out)))
			}
		}

		s.forwardKeys(p.term)

		if err != nil && !ncerr.IsWouldBlock(err) {
			cause = err
			break loop
		}

		next := s.opts.PollInterval
		if n == len(chunk) {
			next = 0
		}
		timer.Reset(next)
	}

	s.drain(p, &bb, cause)
}

var errNotLive = errors.New("connection no longer live")

// drain releases the child and, if the connection is still there,
// reports the end of the session.
func (s *Session) drain(p *process, bb *BoundaryBuffer, cause error) {
	s.setLoopState(LoopDraining)

	switch {
	case cause == nil, errors.Is(cause, io.EOF), errors.Is(cause, context.Canceled):
		s.log.Verbose("pid %d: session ended", p.pid)
	case cause == errNotLive:
		s.log.Verbose("pid %d: connection gone", p.pid)
	default:
		s.log.Warn("pid %d: %v", p.pid, cause)
		s.opts.Metrics.RecordError(cause.Error())
	}

	// Detach first so a Resize or Write from here on sees no session.
	s.mu.Lock()
	s.pid = 0
	s.term = nil
	s.mu.Unlock()

	if err := p.kill(); err != nil {
		s.log.Warn("kill pid %d: %v", p.pid, err)
	}
	s.ioMu.Lock()
	if err := p.term.Close(); err != nil {
		s.log.Debug("close master: %v", err)
	}
	s.ioMu.Unlock()
	s.oob.DrainAll()

	if cause != errNotLive {
		if rest := bb.Flush(); len(rest) > 0 {
			s.emit(TagOutput, string(rest))
		}
		if s.emit(TagOutput, MsgExited) {
			s.emit(TagDone, "")
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	s.loopState = LoopClosed
	s.cancel = nil
	s.mu.Unlock()
	s.opts.Metrics.SessionClosed()
}

// forwardKeys writes every queued keystroke to the child.  The write is
// a single non-blocking attempt; whatever the child cannot take now is
// dropped.
func (s *Session) forwardKeys(term Terminal) {
	keys := s.oob.DrainAll()
	if len(keys) == 0 {
		return
	}
	n, err := term.WriteNonblock(keys)
	s.opts.Metrics.InputDelivered(int64(n))
	if n < len(keys) {
		for i := n; i < len(keys); i++ {
			s.opts.Metrics.OOBDropped()
		}
		s.log.Debug("dropped %d of %d keys: %v", len(keys)-n, len(keys), err)
	}
}

// emit sends one message if the connection is live and reports whether
// it still is.
func (s *Session) emit(tag, payload string) bool {
	if !s.tr.IsLive() {
		return false
	}
	if err := s.tr.Emit(tag, payload); err != nil {
		s.log.Debug("emit %s: %v", tag, err)
		return false
	}
	return true
}
