package port

import "time"

// StateValue is one entry of the host state store. TS is the time of the
// last write, LastChange the time of the last write that actually changed
// the value. Ack marks device-confirmed writes as opposed to user intents.
type StateValue struct {
	Val        any
	TS         time.Time
	LastChange time.Time
	Ack        bool
}

// StateStore is the host platform's key/value state store. Values are not
// type-checked by the store; numeric coercion and staleness checks are the
// caller's responsibility.
type StateStore interface {
	Read(id string) (StateValue, bool)
	Write(id string, value any, ack bool)
	Subscribe(id string, fn func(id string, value StateValue))
}
