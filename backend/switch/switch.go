// Package _switch fans outbound frames out to the live members of a room.
// Delivery is best-effort: a dead or slow member never blocks the rest.
package _switch

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/vashchuk/roomdrop/backend/model"
)

type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	fwd    map[string]map[string]model.Wire
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		fwd:    make(map[string]map[string]model.Wire),
	}
}

// Connect attaches a session's wire to a room.
func (sw *Switch) Connect(roomCode, sessionID string, wire model.Wire) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("roomCode", roomCode).
			Str("sessionID", sessionID).
			Msg("session connected")
	}()

	room, ok := sw.fwd[roomCode]
	if !ok {
		room = make(map[string]model.Wire)
	}
	room[sessionID] = wire
	sw.fwd[roomCode] = room
}

// Disconnect detaches a session's wire. Unknown rooms and sessions are fine.
func (sw *Switch) Disconnect(roomCode, sessionID string) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("roomCode", roomCode).
			Str("sessionID", sessionID).
			Msg("session disconnected")
	}()

	room, ok := sw.fwd[roomCode]
	if ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(sw.fwd, roomCode)
		}
	}
}

// Broadcast delivers a marshaled frame to every member of a room except
// excludeSessionID (pass "" to reach everyone). A missing room is a no-op:
// rooms can legitimately vanish between an event and its fan-out. Delivery
// failures are per-recipient and silently dropped.
func (sw *Switch) Broadcast(roomCode string, frame []byte, excludeSessionID string) {
	sw.mx.RLock()
	room := sw.fwd[roomCode]
	wires := make(map[string]model.Wire, len(room))
	for id, wire := range room {
		wires[id] = wire
	}
	sw.mx.RUnlock()

	var sent int
	for id, wire := range wires {
		if id == excludeSessionID {
			continue
		}
		if push(wire, frame) {
			sent++
		} else {
			sw.logger.Debug().
				Str("roomCode", roomCode).
				Str("sessionID", id).
				Msg("dropped frame for dead or slow session")
		}
	}
	if sent == 0 && len(wires) > 1 {
		sw.logger.Debug().
			Str("roomCode", roomCode).
			Msg("broadcast did not reach anyone")
	}
}

// Send delivers a marshaled frame to a single room member.
func (sw *Switch) Send(roomCode, sessionID string, frame []byte) {
	sw.mx.RLock()
	wire, ok := sw.fwd[roomCode][sessionID]
	sw.mx.RUnlock()

	if !ok || !push(wire, frame) {
		sw.logger.Debug().
			Str("roomCode", roomCode).
			Str("sessionID", sessionID).
			Msg("cannot send, session gone or stalled")
	}
}

// push is non-blocking: broadcasts run under the room's ordering lock, so a
// stalled member must not hold up the room.
func push(wire model.Wire, frame []byte) bool {
	select {
	case wire.TX <- frame:
		return true
	default:
		return false
	}
}
