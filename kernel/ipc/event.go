package ipc

import "github.com/nmxmxh/kron_v1/kernel/utils"

// MaxEventData bounds an event's inline payload. Events are plain values
// copied into and out of the queue's arena ring; no references cross the
// queue boundary.
const MaxEventData = 128

// eventRecordSize is the encoded footprint of one event in the ring.
const eventRecordSize = 8 + MaxEventData

// Event is the unit carried by an EventQueue: a kind tag plus a small inline
// payload.
type Event struct {
	Kind uint32
	Len  uint32
	Data [MaxEventData]byte
}

// MakeEvent builds an event from a payload slice.
func MakeEvent(kind uint32, payload []byte) (Event, error) {
	if len(payload) > MaxEventData {
		return Event{}, utils.WrapError(ErrRange, "event payload too large")
	}
	ev := Event{Kind: kind, Len: uint32(len(payload))}
	copy(ev.Data[:], payload)
	return ev, nil
}

// Payload returns the valid portion of the inline data.
func (e *Event) Payload() []byte { return e.Data[:e.Len] }
