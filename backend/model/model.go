package model

// User is the presence descriptor broadcast to room members.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type Room struct {
	Code       string `json:"room_code"`
	Persistent bool   `json:"persistent"`
	Users      []User `json:"users"`
}

// Wire is the outbound side of a websocket session. Frames pushed into TX
// are already marshaled; the sender pump drains them in order.
type Wire struct {
	TX chan []byte
}

func NewWire(buffer int) Wire {
	return Wire{
		TX: make(chan []byte, buffer),
	}
}
