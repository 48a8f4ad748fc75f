// Package service implements the per-frame protocol state machine. Each
// session moves Unjoined -> InRoom -> Closed; frames that do not satisfy the
// state they are gated on are dropped. Room mutations and the broadcasts they
// trigger run under a per-room lock so every member observes room events in
// the order the server processed them.
package service

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vashchuk/roomdrop/backend/model"
	"github.com/vashchuk/roomdrop/backend/proto"
	"github.com/vashchuk/roomdrop/backend/transfer"
)

type (
	RoomStore interface {
		CreateRoom(requestedCode, password, sessionID string, user model.User) (string, []model.User, error)
		JoinRoom(code, password, sessionID string, user model.User) (string, []model.User, error)
		LeaveRoom(code, sessionID string) ([]model.User, bool, error)
		GetRoom(code string) (*model.Room, error)
	}

	Dispatcher interface {
		Connect(roomCode, sessionID string, wire model.Wire)
		Disconnect(roomCode, sessionID string)
		Broadcast(roomCode string, frame []byte, excludeSessionID string)
	}

	ChunkBuffer interface {
		AppendChunk(roomCode, fileID string, chunkIndex, totalChunks int, payload, fileName, fileType string, fileSize int64) (bool, error)
		TakeCompletedFile(roomCode, fileID string) (transfer.File, error)
	}

	Service struct {
		store  RoomStore
		sw     Dispatcher
		buf    ChunkBuffer
		logger zerolog.Logger

		lmx   sync.Mutex
		locks map[string]*sync.Mutex
	}

	Config struct {
		RoomStore   RoomStore
		Dispatcher  Dispatcher
		ChunkBuffer ChunkBuffer
		Logger      *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:  cfg.RoomStore,
		sw:     cfg.Dispatcher,
		buf:    cfg.ChunkBuffer,
		logger: cfg.Logger.With().Str("component", "relay").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Session is the per-connection protocol state. Its fields are only touched
// by the connection's own receiver goroutine, never concurrently.
type Session struct {
	ID   string
	Wire model.Wire

	roomCode string
	user     model.User
	joined   bool
}

// NewSession creates state for a fresh, unjoined connection.
func NewSession(wire model.Wire) *Session {
	return &Session{
		ID:   uuid.NewString(),
		Wire: wire,
	}
}

// NewSession creates state for a fresh, unjoined connection.
func (svc *Service) NewSession(wire model.Wire) *Session {
	return NewSession(wire)
}

// RoomCode returns the room the session is in, or "" while unjoined.
func (s *Session) RoomCode() string {
	return s.roomCode
}

// HandleFrame interprets one inbound frame. Unparseable frames are logged and
// dropped without a response; they never terminate the connection.
func (svc *Service) HandleFrame(sess *Session, raw []byte) {
	frame, err := proto.Parse(raw)
	if err != nil {
		svc.logger.Debug().
			Err(err).
			Str("sessionID", sess.ID).
			Msg("dropped malformed frame")
		return
	}

	switch f := frame.(type) {
	case proto.CreateRoom:
		svc.handleCreateRoom(sess, f)
	case proto.JoinRoom:
		svc.handleJoinRoom(sess, f)
	case proto.ChatMessage:
		svc.handleChatMessage(sess, f)
	case proto.FileChunk:
		svc.handleFileChunk(sess, f)
	case proto.Typing:
		svc.handleTyping(sess, f)
	}
}

func (svc *Service) handleCreateRoom(sess *Session, f proto.CreateRoom) {
	if sess.joined {
		svc.logger.Debug().Str("sessionID", sess.ID).Msg("create_room from joined session ignored")
		return
	}

	user := model.User{ID: f.UserID, Name: f.UserName, Avatar: f.UserAvatar}
	code, users, err := svc.store.CreateRoom(f.CustomRoomCode, f.Password, sess.ID, user)
	if err != nil {
		svc.sendError(sess, err)
		return
	}

	sess.roomCode = code
	sess.user = user
	sess.joined = true

	// Joins against the fresh code serialize on the room lock. Attaching the
	// wire and re-reading presence under it means the creator either sees a
	// fast joiner in the room_created list or gets their user_joined frame.
	unlock := svc.lockRoom(code)
	defer unlock()

	svc.sw.Connect(code, sess.ID, sess.Wire)
	if room, errGet := svc.store.GetRoom(code); errGet == nil {
		users = room.Users
	}

	svc.sendFrame(sess, proto.RoomCreated{
		Type:     proto.TypeRoomCreated,
		RoomCode: code,
		Users:    users,
	})
	svc.logger.Info().
		Str("roomCode", code).
		Str("userName", user.Name).
		Bool("passworded", f.Password != "").
		Msg("room created")
}

func (svc *Service) handleJoinRoom(sess *Session, f proto.JoinRoom) {
	if sess.joined {
		svc.logger.Debug().Str("sessionID", sess.ID).Msg("join_room from joined session ignored")
		return
	}

	user := model.User{ID: f.UserID, Name: f.UserName, Avatar: f.UserAvatar}

	unlock := svc.lockRoom(f.RoomCode)
	defer unlock()

	code, users, err := svc.store.JoinRoom(f.RoomCode, f.Password, sess.ID, user)
	if err != nil {
		svc.sendError(sess, err)
		return
	}

	sess.roomCode = code
	sess.user = user
	sess.joined = true
	svc.sw.Connect(code, sess.ID, sess.Wire)

	svc.sendFrame(sess, proto.RoomJoined{
		Type:     proto.TypeRoomJoined,
		RoomCode: code,
		Users:    users,
	})
	svc.broadcast(code, proto.UserJoined{
		Type:  proto.TypeUserJoined,
		User:  user,
		Users: users,
	}, sess.ID)

	svc.logger.Info().
		Str("roomCode", code).
		Str("userName", user.Name).
		Msg("user joined room")
}

func (svc *Service) handleChatMessage(sess *Session, f proto.ChatMessage) {
	if !sess.joined {
		svc.logger.Debug().Str("sessionID", sess.ID).Msg("chat_message from unjoined session ignored")
		return
	}

	msg := proto.ChatBroadcast{
		Type:       proto.TypeChatMessage,
		UserID:     sess.user.ID,
		UserName:   sess.user.Name,
		UserAvatar: sess.user.Avatar,
		Message:    f.Message,
		File:       f.File,
		Timestamp:  time.Now().UnixMilli(),
	}

	unlock := svc.lockRoom(sess.roomCode)
	defer unlock()

	svc.broadcast(sess.roomCode, msg, sess.ID)
	svc.sendFrame(sess, msg)
}

func (svc *Service) handleFileChunk(sess *Session, f proto.FileChunk) {
	if !sess.joined {
		svc.logger.Debug().Str("sessionID", sess.ID).Msg("file_chunk from unjoined session ignored")
		return
	}

	complete, err := svc.buf.AppendChunk(sess.roomCode, f.FileID,
		f.ChunkIndex, f.TotalChunks, f.Chunk, f.FileName, f.FileType, f.FileSize)
	if err != nil {
		svc.logger.Debug().
			Err(err).
			Str("roomCode", sess.roomCode).
			Str("fileId", f.FileID).
			Msg("dropped bad file chunk")
		return
	}

	svc.sendFrame(sess, proto.ChunkReceived{
		Type:        proto.TypeChunkReceived,
		FileID:      f.FileID,
		ChunkIndex:  f.ChunkIndex,
		TotalChunks: f.TotalChunks,
	})

	if !complete {
		return
	}

	file, err := svc.buf.TakeCompletedFile(sess.roomCode, f.FileID)
	if err != nil {
		// Another chunk frame for the same key raced us to completion.
		svc.logger.Warn().
			Err(err).
			Str("roomCode", sess.roomCode).
			Str("fileId", f.FileID).
			Msg("completed transfer already taken")
		return
	}

	msg := proto.ChatBroadcast{
		Type:       proto.TypeChatMessage,
		UserID:     sess.user.ID,
		UserName:   sess.user.Name,
		UserAvatar: sess.user.Avatar,
		File: &proto.FileAttachment{
			FileID: f.FileID,
			Name:   file.Name,
			Type:   file.Type,
			Size:   file.Size,
			Data:   file.Data,
		},
		Timestamp: time.Now().UnixMilli(),
	}

	unlock := svc.lockRoom(sess.roomCode)
	defer unlock()

	svc.broadcast(sess.roomCode, msg, sess.ID)
	svc.sendFrame(sess, msg)

	svc.logger.Info().
		Str("roomCode", sess.roomCode).
		Str("fileName", file.Name).
		Int64("fileSize", file.Size).
		Msg("file transfer completed")
}

// handleTyping relays the advisory typing indicator to the rest of the room.
// It carries no state and is never echoed back.
func (svc *Service) handleTyping(sess *Session, f proto.Typing) {
	if !sess.joined {
		return
	}
	svc.broadcast(sess.roomCode, proto.TypingBroadcast{
		Type:     proto.TypeTyping,
		UserID:   sess.user.ID,
		UserName: sess.user.Name,
		IsTyping: f.IsTyping,
	}, sess.ID)
}

// Disconnect tears down the session's room membership on transport close.
// Remaining members get a user_left frame; an emptied room stays silent.
func (svc *Service) Disconnect(sess *Session) {
	if !sess.joined {
		return
	}

	unlock := svc.lockRoom(sess.roomCode)
	defer unlock()

	svc.sw.Disconnect(sess.roomCode, sess.ID)

	users, removed, err := svc.store.LeaveRoom(sess.roomCode, sess.ID)
	if err != nil {
		svc.logger.Warn().
			Err(err).
			Str("roomCode", sess.roomCode).
			Str("sessionID", sess.ID).
			Msg("leave failed")
		sess.joined = false
		return
	}

	if !removed && len(users) > 0 {
		svc.broadcast(sess.roomCode, proto.UserLeft{
			Type:     proto.TypeUserLeft,
			UserID:   sess.user.ID,
			UserName: sess.user.Name,
			Users:    users,
		}, "")
	}

	svc.logger.Info().
		Str("roomCode", sess.roomCode).
		Str("userName", sess.user.Name).
		Bool("roomRemoved", removed).
		Msg("user left room")

	sess.joined = false
}

// lockRoom serializes mutation+broadcast sequences for one room without
// serializing unrelated rooms. Lock entries are tiny and rooms are
// persistent, so entries are never reclaimed.
func (svc *Service) lockRoom(code string) func() {
	code = strings.ToUpper(code)

	svc.lmx.Lock()
	mx, ok := svc.locks[code]
	if !ok {
		mx = &sync.Mutex{}
		svc.locks[code] = mx
	}
	svc.lmx.Unlock()

	mx.Lock()
	return mx.Unlock
}

func (svc *Service) broadcast(roomCode string, frame any, excludeSessionID string) {
	b, err := proto.Marshal(frame)
	if err != nil {
		svc.logger.Error().Err(err).Msg("broadcast frame marshal failed")
		return
	}
	svc.sw.Broadcast(roomCode, b, excludeSessionID)
}

// sendFrame pushes a frame straight onto the session's own wire. Like
// broadcast delivery it is best-effort: a stalled session loses frames
// rather than blocking the room.
func (svc *Service) sendFrame(sess *Session, frame any) {
	b, err := proto.Marshal(frame)
	if err != nil {
		svc.logger.Error().Err(err).Msg("frame marshal failed")
		return
	}
	select {
	case sess.Wire.TX <- b:
	default:
		svc.logger.Debug().
			Str("sessionID", sess.ID).
			Msg("dropped frame for stalled session")
	}
}

func (svc *Service) sendError(sess *Session, err error) {
	svc.sendFrame(sess, proto.ErrorFrame{
		Type:    proto.TypeError,
		Message: err.Error(),
	})
}
