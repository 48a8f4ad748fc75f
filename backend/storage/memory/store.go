// Package memory implements the in-memory room registry. Room codes are the
// sole addressing mechanism, so format validation and uniqueness live here,
// not in the transport layer.
package memory

import (
	"errors"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"

	"github.com/vashchuk/roomdrop/backend/model"
)

const (
	generatedCodeLength = 6
	codeAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrInvalidRoomCode = errors.New("room code must be 3-12 letters or digits")
	ErrRoomCodeTaken   = errors.New("room code is already in use")
	ErrRoomNotFound    = errors.New("room is not found")
	ErrWrongPassword   = errors.New("wrong password")
	ErrNotAMember      = errors.New("session is not a member of this room")

	codeRe = regexp.MustCompile(`^[A-Z0-9]{3,12}$`)
)

type room struct {
	code       string
	password   string
	persistent bool
	members    map[string]struct{} // session IDs
	users      []memberUser        // join order, one entry per member
}

type memberUser struct {
	sessionID string
	user      model.User
}

type MemStore struct {
	mx *sync.Mutex
	db map[string]*room
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx: &sync.Mutex{},
		db: make(map[string]*room),
	}
}

// NormalizeCode uppercases a room code. Every lookup and every outbound
// frame uses the normalized form.
func NormalizeCode(code string) string {
	return strings.ToUpper(code)
}

// CreateRoom registers a new persistent room with the creator as sole member.
// An empty requestedCode synthesizes a random unique 6-character code.
func (ms *MemStore) CreateRoom(requestedCode, password, sessionID string, user model.User) (string, []model.User, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	var code string
	if requestedCode != "" {
		code = NormalizeCode(requestedCode)
		if !codeRe.MatchString(code) {
			return "", nil, ErrInvalidRoomCode
		}
		if _, ok := ms.db[code]; ok {
			return "", nil, ErrRoomCodeTaken
		}
	} else {
		// Collisions are rare at 36^6 codes but still possible, so loop.
		for {
			code = randomCode()
			if _, ok := ms.db[code]; !ok {
				break
			}
		}
	}

	rm := &room{
		code:       code,
		password:   password,
		persistent: true,
		members:    map[string]struct{}{sessionID: {}},
		users:      []memberUser{{sessionID: sessionID, user: user}},
	}
	ms.db[code] = rm
	return code, rm.userList(), nil
}

// JoinRoom appends the joiner to an existing room. The room's password, when
// set, must match exactly.
func (ms *MemStore) JoinRoom(code, password, sessionID string, user model.User) (string, []model.User, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	code = NormalizeCode(code)
	rm, ok := ms.db[code]
	if !ok {
		return "", nil, ErrRoomNotFound
	}
	if rm.password != "" && password != rm.password {
		return "", nil, ErrWrongPassword
	}

	rm.members[sessionID] = struct{}{}
	rm.users = append(rm.users, memberUser{sessionID: sessionID, user: user})
	return code, rm.userList(), nil
}

// LeaveRoom drops the session's membership. A persistent room stays
// registered with an empty user list; a non-persistent one is deleted and
// removed=true is reported.
func (ms *MemStore) LeaveRoom(code, sessionID string) ([]model.User, bool, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	code = NormalizeCode(code)
	rm, ok := ms.db[code]
	if !ok {
		return nil, false, ErrRoomNotFound
	}
	if _, ok = rm.members[sessionID]; !ok {
		return nil, false, ErrNotAMember
	}

	delete(rm.members, sessionID)
	for i, mu := range rm.users {
		if mu.sessionID == sessionID {
			rm.users = append(rm.users[:i], rm.users[i+1:]...)
			break
		}
	}

	if len(rm.members) == 0 && !rm.persistent {
		delete(ms.db, code)
		return nil, true, nil
	}
	return rm.userList(), false, nil
}

// GetRoom returns a presence snapshot for read-only consumers.
func (ms *MemStore) GetRoom(code string) (*model.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	rm, ok := ms.db[NormalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &model.Room{
		Code:       rm.code,
		Persistent: rm.persistent,
		Users:      rm.userList(),
	}, nil
}

// Stats reports registry-wide counters.
func (ms *MemStore) Stats() (rooms, members int) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	rooms = len(ms.db)
	for _, rm := range ms.db {
		members += len(rm.members)
	}
	return rooms, members
}

func (rm *room) userList() []model.User {
	users := make([]model.User, 0, len(rm.users))
	for _, mu := range rm.users {
		users = append(users, mu.user)
	}
	return users
}

func randomCode() string {
	b := make([]byte, generatedCodeLength)
	for i := range b {
		b[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(b)
}
