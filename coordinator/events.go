// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcjoin/coinjoin"
	"github.com/lightningnetwork/lnd/queue"
)

// PhaseChanged is sent when a round moves to another phase.
type PhaseChanged struct {
	RoundID uint64
	From    coinjoin.Phase
	To      coinjoin.Phase
}

// ParticipantsChanged is sent when the number of registered participants
// of a round changes.
type ParticipantsChanged struct {
	RoundID uint64
	Count   int
}

// AlicesDropped is sent when a round drops participants, releasing their
// inputs. Noted is set when the inputs should be soft-banned.
type AlicesDropped struct {
	RoundID uint64
	Inputs  []wire.OutPoint
	Noted   bool
}

// Subscription delivers the events of one round in the order they
// happened. It must be cancelled once the subscriber is done with it.
type Subscription struct {
	id     uint64
	events *queue.ConcurrentQueue

	cancel     func()
	cancelOnce sync.Once
	quit       chan struct{}
}

// Updates returns the event channel. It is never closed; select on Quit as
// well.
func (s *Subscription) Updates() <-chan interface{} {
	return s.events.ChanOut()
}

// Quit is closed when the subscription is cancelled.
func (s *Subscription) Quit() <-chan struct{} {
	return s.quit
}

// Cancel detaches the subscription from its round.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancel()
		s.events.Stop()
		close(s.quit)
	})
}

// Subscribe returns a subscription to the round's events.
func (r *Round) Subscribe() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSubID++
	sub := &Subscription{
		id:     r.nextSubID,
		events: queue.NewConcurrentQueue(20),
		quit:   make(chan struct{}),
	}
	sub.cancel = func() {
		r.mu.Lock()
		delete(r.subscribers, sub.id)
		r.mu.Unlock()
	}
	sub.events.Start()
	r.subscribers[sub.id] = sub

	return sub
}

// notify delivers an event to every subscriber. The caller must hold the
// round mutex, so a subscriber is either removed before its queue stops or
// receives the event.
func (r *Round) notify(event interface{}) {
	for _, sub := range r.subscribers {
		sub.events.ChanIn() <- event
	}
}
