package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trustclock/internal/envelope"
	"trustclock/internal/ordering"
	"trustclock/internal/wire"
)

// DefaultPerPeerTimeout bounds each delivery RPC during fan-out.
const DefaultPerPeerTimeout = 2 * time.Second

// queued is one stamped message waiting for fan-out.
type queued struct {
	id        string
	recipient envelope.ProcessID
	msg       *wire.Message
}

// Outbox stamps outbound payloads with the local clock and queues them
// per recipient until the next fan-out.
type Outbox struct {
	mu    sync.Mutex
	svc   *ordering.Service
	queue []queued
	log   zerolog.Logger
}

// NewOutbox creates an outbox around an ordering service.
func NewOutbox(svc *ordering.Service, log zerolog.Logger) *Outbox {
	return &Outbox{svc: svc, log: log}
}

// Enqueue records a local event over the payload and queues the signed
// message for the recipient. The envelope is returned so callers can
// correlate it later.
func (o *Outbox) Enqueue(recipient envelope.ProcessID, payload []byte) (*envelope.Envelope, error) {
	env, err := o.svc.RecordLocal(envelope.DigestOf(payload))
	if err != nil {
		return nil, err
	}

	item := queued{
		id:        uuid.NewString(),
		recipient: recipient,
		msg:       &wire.Message{Envelope: env, Payload: append([]byte(nil), payload...)},
	}

	o.mu.Lock()
	o.queue = append(o.queue, item)
	o.mu.Unlock()

	o.log.Debug().Str("msg_id", item.id).Str("to", string(recipient)).
		Uint64("counter", env.Counter).Msg("queued outbound message")
	return env, nil
}

// Pending returns the number of queued messages.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// take drains the queue and groups messages by recipient, preserving
// enqueue order within each group.
func (o *Outbox) take() map[envelope.ProcessID][]queued {
	o.mu.Lock()
	defer o.mu.Unlock()
	groups := make(map[envelope.ProcessID][]queued)
	for _, item := range o.queue {
		groups[item.recipient] = append(groups[item.recipient], item)
	}
	o.queue = nil
	return groups
}

// requeue puts undelivered messages back at the front of the queue.
func (o *Outbox) requeue(items []queued) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = append(items, o.queue...)
}

// FanOutResult summarizes one fan-out round.
type FanOutResult struct {
	Delivered int // messages accepted by their recipient
	Rejected  int // messages the recipient refused (not retried)
	Requeued  int // messages kept for the next round after transport errors
}

// FanOut drains the queue and delivers one bundle per recipient, all
// recipients in parallel with a per-peer timeout. Transport failures
// requeue the bundle for the next round; rejections are final, since
// reverification of identical input fails identically.
func (o *Outbox) FanOut(ctx context.Context, peers *Peers, cm *ClientManager) FanOutResult {
	groups := o.take()
	if len(groups) == 0 {
		return FanOutResult{}
	}

	var (
		mu     sync.Mutex
		result FanOutResult
		wg     sync.WaitGroup
	)

	for recipient, items := range groups {
		wg.Add(1)
		go func(recipient envelope.ProcessID, items []queued) {
			defer wg.Done()

			addr, ok := peers.Addr(recipient)
			if !ok {
				o.log.Warn().Str("to", string(recipient)).Int("messages", len(items)).
					Msg("no address for recipient, requeueing")
				o.requeue(items)
				mu.Lock()
				result.Requeued += len(items)
				mu.Unlock()
				return
			}

			req := &wire.DeliverRequest{Sender: o.svc.ID()}
			for _, item := range items {
				req.Messages = append(req.Messages, item.msg)
			}

			peerCtx, cancel := context.WithTimeout(ctx, DefaultPerPeerTimeout)
			defer cancel()

			resp, err := cm.Deliver(peerCtx, addr, req)
			if err != nil {
				o.log.Warn().Err(err).Str("to", string(recipient)).Int("messages", len(items)).
					Msg("delivery failed, requeueing")
				o.requeue(items)
				mu.Lock()
				result.Requeued += len(items)
				mu.Unlock()
				return
			}

			for _, rej := range resp.Rejections {
				o.log.Warn().Str("to", string(recipient)).Str("reason", rej.Reason).
					Str("producer", string(rej.Producer)).Uint64("counter", rej.Counter).
					Msg("recipient rejected envelope")
			}

			mu.Lock()
			result.Delivered += int(resp.Accepted)
			result.Rejected += len(resp.Rejections)
			mu.Unlock()
		}(recipient, items)
	}

	wg.Wait()
	return result
}
