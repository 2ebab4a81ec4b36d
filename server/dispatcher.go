package server

import (
	"encoding/json"
)

// Dispatcher produces all outbound traffic for one match. Every method
// is called from the match tick goroutine, so enqueue order per
// recipient is delivery order; nothing is promised across recipients.
type Dispatcher struct {
	m *Match
}

func newDispatcher(m *Match) *Dispatcher {
	return &Dispatcher{m: m}
}

func (d *Dispatcher) marshal(op uint16, v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		// Payload types are our own structs; a marshal failure is a bug.
		d.m.log.Error().Err(err).Uint16("op", op).Msg("marshal outbound payload")
		return nil
	}
	return EncodeFrame(op, payload)
}

// Broadcast sends to every present session.
func (d *Dispatcher) Broadcast(op uint16, v any) {
	frame := d.marshal(op, v)
	if frame == nil {
		return
	}
	for _, c := range d.m.clients {
		c.enqueue(frame)
	}
	d.m.metrics.broadcasts.Inc()
}

// BroadcastExcept sends to everyone but one session.
func (d *Dispatcher) BroadcastExcept(op uint16, v any, exceptSession string) {
	frame := d.marshal(op, v)
	if frame == nil {
		return
	}
	for id, c := range d.m.clients {
		if id == exceptSession {
			continue
		}
		c.enqueue(frame)
	}
	d.m.metrics.broadcasts.Inc()
}

// Unicast sends to a targeted list of sessions.
func (d *Dispatcher) Unicast(op uint16, v any, sessions ...string) {
	frame := d.marshal(op, v)
	if frame == nil {
		return
	}
	for _, id := range sessions {
		if c, ok := d.m.clients[id]; ok {
			c.enqueue(frame)
		}
	}
}

// RawUnicast sends a pre-encoded frame, used for opaque relays.
func (d *Dispatcher) RawUnicast(frame []byte, sessions ...string) {
	for _, id := range sessions {
		if c, ok := d.m.clients[id]; ok {
			c.enqueue(frame)
		}
	}
}

// RawBroadcastExcept relays a pre-encoded frame to everyone but the
// sender.
func (d *Dispatcher) RawBroadcastExcept(frame []byte, exceptSession string) {
	for id, c := range d.m.clients {
		if id != exceptSession {
			c.enqueue(frame)
		}
	}
	d.m.metrics.broadcasts.Inc()
}

// LabelUpdate recomputes the discovery label and publishes it to the
// server registry.
func (d *Dispatcher) LabelUpdate() {
	d.m.publishLabel()
}

// Kick asks the transport to close a session after delivering what is
// already queued.
func (d *Dispatcher) Kick(session, reason string) {
	if c, ok := d.m.clients[session]; ok {
		d.m.log.Info().Str("session", session).Str("reason", reason).Msg("kicking session")
		c.kick(reason)
	}
}

// Advise sends a one-line server chat advisory to a single session,
// used for rate-limit and quota pushback.
func (d *Dispatcher) Advise(session, text string) {
	d.Unicast(OpChat, ChatMsg{Message: text, From: "Server"}, session)
}
