package hub

import (
	"context"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/twodrive/twodrive/actor"
	"github.com/twodrive/twodrive/events"
	"github.com/twodrive/twodrive/metrics"
	"github.com/twodrive/twodrive/protocol"
)

type outboxMessage struct {
	typ     protocol.MessageType
	payload []byte
}

// Outbox serialises, optionally compresses, optionally encrypts, and
// transmits frames to one peer over a persistent TCP connection.
// Grounded on connection_hub.py's Outbox class.
type Outbox struct {
	peerIP string
	hub    *Hub

	on        boolFlag
	encrypted boolFlag

	queue *actor.Queue

	limiter *rate.Limiter
}

func newOutbox(peerIP string, h *Hub) *Outbox {
	o := &Outbox{
		peerIP: peerIP,
		hub:    h,
		queue:  actor.NewQueue(),
	}
	o.on.set(true)
	if h.maxSendKBps > 0 {
		// Burst is sized to a single fully-loaded frame (one BLOCK
		// payload), not to the rate target, so WaitN never rejects a
		// send outright; it only ever delays it.
		o.limiter = rate.NewLimiter(rate.Limit(h.maxSendKBps*1024), outboxBurstBytes)
	}
	return o
}

// IsOn reports whether this outbox is still accepting sends.
func (o *Outbox) IsOn() bool { return o.on.get() }

// QueueSize reports how many messages are queued, used by a Reader to
// apply backpressure.
func (o *Outbox) QueueSize() int { return o.queue.Len() }

// Off signals the outbox to stop; its run loop returns at its next
// check, and messages still queued are not sent.
func (o *Outbox) Off() { o.on.set(false) }

// EnableEncryption is called by the paired Inbox on receiving an
// ENCRYPTION=1 frame from the peer.
func (o *Outbox) EnableEncryption() { o.encrypted.set(true) }

// Send enqueues a message for delivery. The backing queue (actor.Queue)
// is genuinely unbounded, so this never drops a message under
// backpressure: a stalled peer just lets its queue grow until its
// outbox reconnects or the process is told to stop.
func (o *Outbox) Send(t protocol.MessageType, payload []byte) {
	o.queue.Put(outboxMessage{typ: t, payload: payload})
}

func (o *Outbox) run() {
	o.hub.log.Infof("hub: outbox scheduled: %s", o.peerIP)

	var conn net.Conn
	for {
		if !o.on.get() {
			return
		}
		c, err := net.DialTimeout("tcp", net.JoinHostPort(o.peerIP, strconv.Itoa(o.hub.dialPort)), 5*time.Second)
		if err != nil {
			time.Sleep(dialRetryInterval)
			continue
		}
		conn = c
		break
	}
	defer conn.Close()

	encryptionSelf := protocol.EncryptionDisabled
	if o.hub.encrypt {
		encryptionSelf = protocol.EncryptionEnabled
		o.encrypted.set(true)
	}

	if err := o.sendFrame(conn, protocol.MessageEncryption, mustMarshal(encryptionSelf)); err != nil {
		o.hub.log.Warnf("hub: outbox: send encryption frame to %s: %v", o.peerIP, err)
		return
	}

	dict, err := o.hub.center.FileDictMessage()
	if err != nil {
		o.hub.log.Warnf("hub: outbox: build file dict for %s: %v", o.peerIP, err)
		return
	}
	dictPayload, err := dict.MarshalXDR()
	if err != nil {
		o.hub.log.Warnf("hub: outbox: encode file dict for %s: %v", o.peerIP, err)
		return
	}
	if err := o.sendFrame(conn, protocol.MessageFileDict, dictPayload); err != nil {
		o.hub.log.Warnf("hub: outbox: send file dict to %s: %v", o.peerIP, err)
		return
	}

	// Drain whatever was enqueued before this connection came up and
	// re-queue it, dropping any FILE_ADDED/FILE_MODIFIED: the FILE_DICT
	// just sent already covers them.
	for _, m := range o.drainPending() {
		if m.typ == protocol.MessageFileAdded || m.typ == protocol.MessageFileModified {
			continue
		}
		o.queue.Put(m)
	}

	o.hub.events.Log(events.PeerConnected, o.peerIP)
	metrics.PeersConnected.Inc()
	defer func() {
		metrics.PeersConnected.Dec()
		o.hub.events.Log(events.PeerDisconnected, o.peerIP)
	}()

	for {
		if !o.on.get() {
			return
		}
		select {
		case item := <-o.queue.Out():
			m := item.(outboxMessage)
			if err := o.sendFrame(conn, m.typ, m.payload); err != nil {
				o.hub.log.Warnf("hub: outbox: connection lost to %s: %v", o.peerIP, err)
				return
			}
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// drainPending pulls everything buffered at this instant off the
// queue (its length is sampled once, so a concurrent Send racing this
// call simply stays queued for the steady-state loop below).
func (o *Outbox) drainPending() []outboxMessage {
	n := o.queue.Len()
	pending := make([]outboxMessage, 0, n)
	for i := 0; i < n; i++ {
		item := <-o.queue.Out()
		pending = append(pending, item.(outboxMessage))
	}
	return pending
}

// sendFrame applies the transform pipeline (compress BLOCK payloads,
// then encrypt everything but ENCRYPTION) and writes header+payload.
// Mirrors Outbox.run's per-message send logic.
func (o *Outbox) sendFrame(conn net.Conn, t protocol.MessageType, payload []byte) error {
	if t == protocol.MessageBlock && o.hub.compress {
		compressed, err := o.hub.compressor.Compress(payload)
		if err != nil {
			return err
		}
		payload = compressed
	}
	if o.encrypted.get() && t != protocol.MessageEncryption {
		encrypted, err := o.hub.cipher.Encrypt(payload)
		if err != nil {
			return err
		}
		payload = encrypted
	}

	if o.limiter != nil {
		if err := o.limiter.WaitN(context.Background(), len(payload)); err != nil {
			return err
		}
	}

	counted := metrics.NewCountingWriter(conn, metrics.BytesSent)
	if err := protocol.WriteFrame(counted, t, payload); err != nil {
		return err
	}
	metrics.FramesSent.WithLabelValues(t.String()).Inc()
	o.hub.log.Debugf("hub: outbox: sent to %s: %s (%d bytes)", o.peerIP, t, len(payload))
	return nil
}

func mustMarshal(level protocol.EncryptionLevel) []byte {
	b, err := level.MarshalXDR()
	if err != nil {
		panic(err)
	}
	return b
}
