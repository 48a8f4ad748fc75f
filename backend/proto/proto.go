// Package proto defines the websocket wire protocol: one frame type per
// "type" tag, parsed and validated at the boundary so the rest of the server
// only ever sees well-formed frames.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vashchuk/roomdrop/backend/model"
)

// Inbound frame type tags.
const (
	TypeCreateRoom  = "create_room"
	TypeJoinRoom    = "join_room"
	TypeChatMessage = "chat_message"
	TypeFileChunk   = "file_chunk"
	TypeTyping      = "typing"
)

// Outbound frame type tags.
const (
	TypeRoomCreated   = "room_created"
	TypeRoomJoined    = "room_joined"
	TypeUserJoined    = "user_joined"
	TypeUserLeft      = "user_left"
	TypeChunkReceived = "chunk_received"
	TypeError         = "error"
)

var (
	ErrUnknownType   = errors.New("unknown frame type")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidChunk  = errors.New("invalid chunk bounds")
	ErrEmptyFrame    = errors.New("empty frame")
	ErrNotJSONObject = errors.New("frame is not a json object")
)

// Frame is an inbound protocol frame. The concrete type identifies the variant.
type Frame interface {
	frameType() string
}

type CreateRoom struct {
	CustomRoomCode string `json:"customRoomCode,omitempty"`
	Password       string `json:"password,omitempty"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	UserAvatar     string `json:"userAvatar,omitempty"`
}

type JoinRoom struct {
	RoomCode   string `json:"roomCode"`
	Password   string `json:"password,omitempty"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	UserAvatar string `json:"userAvatar,omitempty"`
}

type ChatMessage struct {
	Message string          `json:"message"`
	File    *FileAttachment `json:"file,omitempty"`
}

type FileChunk struct {
	FileID      string `json:"fileId"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	Chunk       string `json:"chunk"`
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	FileSize    int64  `json:"fileSize"`
}

type Typing struct {
	IsTyping bool `json:"isTyping"`
}

func (CreateRoom) frameType() string  { return TypeCreateRoom }
func (JoinRoom) frameType() string    { return TypeJoinRoom }
func (ChatMessage) frameType() string { return TypeChatMessage }
func (FileChunk) frameType() string   { return TypeFileChunk }
func (Typing) frameType() string      { return TypeTyping }

// FileAttachment travels inside chat_message frames in both directions.
// Data is an opaque string; the server never transcodes it.
type FileAttachment struct {
	FileID string `json:"fileId,omitempty"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	Data   string `json:"data"`
}

type envelope struct {
	Type string `json:"type"`
}

// Parse turns raw frame bytes into a typed inbound frame. Anything that does
// not match a known variant shape is an error; callers log and drop it.
func Parse(data []byte) (Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Join(ErrNotJSONObject, err)
	}

	switch env.Type {
	case TypeCreateRoom:
		var f CreateRoom
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		if f.UserID == "" || f.UserName == "" {
			return nil, fmt.Errorf("%w: create_room requires userId and userName", ErrMissingField)
		}
		return f, nil

	case TypeJoinRoom:
		var f JoinRoom
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		if f.RoomCode == "" || f.UserID == "" || f.UserName == "" {
			return nil, fmt.Errorf("%w: join_room requires roomCode, userId and userName", ErrMissingField)
		}
		return f, nil

	case TypeChatMessage:
		var f ChatMessage
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil

	case TypeFileChunk:
		var f FileChunk
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		if f.FileID == "" {
			return nil, fmt.Errorf("%w: file_chunk requires fileId", ErrMissingField)
		}
		if f.TotalChunks < 1 || f.ChunkIndex < 0 || f.ChunkIndex >= f.TotalChunks {
			return nil, fmt.Errorf("%w: index %d of %d", ErrInvalidChunk, f.ChunkIndex, f.TotalChunks)
		}
		return f, nil

	case TypeTyping:
		var f Typing
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f, nil

	case "":
		return nil, fmt.Errorf("%w: frame has no type field", ErrMissingField)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Outbound frames. These are marshaled once per broadcast and fanned out
// as raw bytes.

type RoomCreated struct {
	Type     string       `json:"type"`
	RoomCode string       `json:"roomCode"`
	Users    []model.User `json:"users"`
}

type RoomJoined struct {
	Type     string       `json:"type"`
	RoomCode string       `json:"roomCode"`
	Users    []model.User `json:"users"`
}

type UserJoined struct {
	Type  string       `json:"type"`
	User  model.User   `json:"user"`
	Users []model.User `json:"users"`
}

type UserLeft struct {
	Type     string       `json:"type"`
	UserID   string       `json:"userId"`
	UserName string       `json:"userName"`
	Users    []model.User `json:"users"`
}

type ChatBroadcast struct {
	Type       string          `json:"type"`
	UserID     string          `json:"userId"`
	UserName   string          `json:"userName"`
	UserAvatar string          `json:"userAvatar"`
	Message    string          `json:"message"`
	File       *FileAttachment `json:"file,omitempty"`
	Timestamp  int64           `json:"timestamp"`
}

type ChunkReceived struct {
	Type        string `json:"type"`
	FileID      string `json:"fileId"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

type TypingBroadcast struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Marshal serializes an outbound frame. Outbound types are fixed shapes, so
// a marshal failure indicates a programming error and is reported as such.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbound frame: %w", err)
	}
	return b, nil
}
