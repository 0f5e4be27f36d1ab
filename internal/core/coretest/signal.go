// Package coretest provides scriptable in-memory implementations of the
// core interfaces for tests.
package coretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/eventq"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

var _ core.SignalChannel = (*Signal)(nil)

// Signal is a fake control channel. Requests go to Sent while connected and
// to a pending list while down, like the real client.
type Signal struct {
	events *eventq.Queue[core.SignalEvent]

	mu             sync.Mutex
	joinResp       *protocol.JoinResponse
	joinErrs       []error
	dropAfterJoins int
	resumeErrs     []error
	joins          int
	resumes        int
	connected      bool
	closed         bool
	sent           []protocol.Request
	pending        []protocol.Request
	autoAnswer     bool
	nextTrack      int
	callErr        error
	drained        []error
	lastJoinParams core.JoinParams
}

// NewSignal answers joins with join and, by default, answers every
// publisher offer and every add_track call.
func NewSignal(join *protocol.JoinResponse) *Signal {
	return &Signal{
		events:     eventq.NewQueue[core.SignalEvent](),
		joinResp:   join,
		autoAnswer: true,
	}
}

// FailJoins makes the next joins fail with errs, in order.
func (s *Signal) FailJoins(errs ...error) {
	s.mu.Lock()
	s.joinErrs = append(s.joinErrs, errs...)
	s.mu.Unlock()
}

// FailResumes makes the next n resumes fail with err.
func (s *Signal) FailResumes(n int, err error) {
	s.mu.Lock()
	for range n {
		s.resumeErrs = append(s.resumeErrs, err)
	}
	s.mu.Unlock()
}

// DropAfterJoins makes the next n successful joins lose the channel right
// after the join answer, before the caller gets to use it.
func (s *Signal) DropAfterJoins(n int) {
	s.mu.Lock()
	s.dropAfterJoins += n
	s.mu.Unlock()
}

func (s *Signal) SetAutoAnswer(on bool) {
	s.mu.Lock()
	s.autoAnswer = on
	s.mu.Unlock()
}

// RejectCalls makes every Call fail with err until reset with nil.
func (s *Signal) RejectCalls(err error) {
	s.mu.Lock()
	s.callErr = err
	s.mu.Unlock()
}

func (s *Signal) Join(ctx context.Context, p core.JoinParams) (*protocol.JoinResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrClosed
	}
	s.joins++
	s.lastJoinParams = p
	if len(s.joinErrs) > 0 {
		err := s.joinErrs[0]
		s.joinErrs = s.joinErrs[1:]
		return nil, err
	}
	s.connected = true
	s.flushLocked()
	join := *s.joinResp
	s.events.Push(core.SignalEvent{Message: &join})
	if s.dropAfterJoins > 0 {
		s.dropAfterJoins--
		s.connected = false
		s.events.Push(core.SignalEvent{Lost: fmt.Errorf("%w: connection dropped", domain.ErrTransport)})
	}
	return &join, nil
}

func (s *Signal) Resume(ctx context.Context, p core.JoinParams, sid domain.ParticipantID) (*protocol.ReconnectResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrClosed
	}
	s.resumes++
	s.lastJoinParams = p
	if len(s.resumeErrs) > 0 {
		err := s.resumeErrs[0]
		s.resumeErrs = s.resumeErrs[1:]
		return nil, err
	}
	s.connected = true
	s.flushLocked()
	rr := &protocol.ReconnectResponse{ICEServers: s.joinResp.ICEServers}
	s.events.Push(core.SignalEvent{Message: rr})
	return rr, nil
}

func (s *Signal) flushLocked() {
	s.sent = append(s.sent, s.pending...)
	s.pending = nil
}

func (s *Signal) Send(req protocol.Request) {
	s.mu.Lock()
	if !s.connected {
		s.pending = append(s.pending, req)
		s.mu.Unlock()
		return
	}
	s.sent = append(s.sent, req)
	answer := s.autoAnswer
	s.mu.Unlock()

	if sd, ok := req.(*protocol.SessionDescription); ok && answer && sd.Type == protocol.SDPTypeOffer {
		s.Push(&protocol.SessionDescription{Type: protocol.SDPTypeAnswer, SDP: "answer-to-" + sd.SDP})
	}
}

// Call answers add_track with a published track built from the request.
func (s *Signal) Call(ctx context.Context, req protocol.Request, key string) (protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.callErr != nil {
		err := s.callErr
		s.mu.Unlock()
		return nil, err
	}
	s.sent = append(s.sent, req)
	s.nextTrack++
	n := s.nextTrack
	s.mu.Unlock()

	add, ok := req.(*protocol.AddTrack)
	if !ok {
		return nil, fmt.Errorf("coretest: no canned answer for %s", req.Kind())
	}
	return &protocol.TrackPublished{
		CID: key,
		Track: domain.TrackInfo{
			SID:        domain.TrackID(fmt.Sprintf("TR_%d", n)),
			Name:       add.Name,
			Kind:       add.Type,
			Source:     add.Source,
			Muted:      add.Muted,
			Simulcast:  add.Simulcast,
			Dimensions: add.Dimensions,
		},
	}, nil
}

func (s *Signal) RetainPending(keep func(protocol.Request) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pending[:0]
	for _, r := range s.pending {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	dropped := len(s.pending) - len(kept)
	s.pending = kept
	return dropped
}

func (s *Signal) Drain(err error) {
	s.mu.Lock()
	s.drained = append(s.drained, err)
	s.mu.Unlock()
}

func (s *Signal) Events() <-chan core.SignalEvent { return s.events.C() }

func (s *Signal) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// DropConnection marks the channel down and raises Lost.
func (s *Signal) DropConnection() {
	s.Lose(fmt.Errorf("%w: connection dropped", domain.ErrTransport))
}

func (s *Signal) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *Signal) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.connected = false
	s.mu.Unlock()
	s.events.Close()
}

// Push delivers msg as if the server sent it.
func (s *Signal) Push(msg protocol.Message) {
	s.events.Push(core.SignalEvent{Message: msg})
}

// Lose marks the channel down and raises Lost with err.
func (s *Signal) Lose(err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.events.Push(core.SignalEvent{Lost: err})
}

func (s *Signal) Joins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joins
}

func (s *Signal) Resumes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumes
}

func (s *Signal) LastJoinParams() core.JoinParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastJoinParams
}

// Sent returns the requests that reached the server, in order.
func (s *Signal) Sent() []protocol.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Request(nil), s.sent...)
}

func (s *Signal) Pending() []protocol.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Request(nil), s.pending...)
}

func (s *Signal) Drained() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.drained...)
}

// SentOf returns the sent requests of type T.
func SentOf[T protocol.Request](s *Signal) []T {
	var out []T
	for _, r := range s.Sent() {
		if v, ok := r.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
