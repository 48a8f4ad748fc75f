package memory

import (
	"errors"
	"regexp"
	"testing"

	"github.com/vashchuk/roomdrop/backend/model"
)

var (
	alice = model.User{ID: "u1", Name: "alice", Avatar: "a1"}
	bob   = model.User{ID: "u2", Name: "bob", Avatar: "a2"}
	carol = model.User{ID: "u3", Name: "carol"}
)

func TestCreateRoomValidatesCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		err  error
	}{
		{"too short", "AB", ErrInvalidRoomCode},
		{"too long", "ABCDEFGHIJKLM", ErrInvalidRoomCode},
		{"bad characters", "ROOM-1", ErrInvalidRoomCode},
		{"minimum length", "AB1", nil},
		{"maximum length", "ABCDEFGHIJKL", nil},
		{"lowercase is normalized", "room42", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := NewMemStore()
			code, users, err := ms.CreateRoom(tt.code, "", "s1", alice)
			if !errors.Is(err, tt.err) {
				t.Fatalf("CreateRoom(%q) err = %v, want %v", tt.code, err, tt.err)
			}
			if err != nil {
				return
			}
			if code != NormalizeCode(tt.code) {
				t.Errorf("code = %q, want %q", code, NormalizeCode(tt.code))
			}
			if len(users) != 1 || users[0] != alice {
				t.Errorf("users = %v, want sole creator", users)
			}
		})
	}
}

func TestCreateRoomTakenCode(t *testing.T) {
	ms := NewMemStore()
	if _, _, err := ms.CreateRoom("TEST1", "", "s1", alice); err != nil {
		t.Fatalf("first CreateRoom: %v", err)
	}
	if _, _, err := ms.CreateRoom("test1", "", "s2", bob); !errors.Is(err, ErrRoomCodeTaken) {
		t.Fatalf("second CreateRoom err = %v, want ErrRoomCodeTaken", err)
	}
}

func TestCreateRoomGeneratedCodes(t *testing.T) {
	ms := NewMemStore()
	codeFormat := regexp.MustCompile(`^[A-Z0-9]{6}$`)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		code, _, err := ms.CreateRoom("", "", "s1", alice)
		if err != nil {
			t.Fatalf("CreateRoom: %v", err)
		}
		if !codeFormat.MatchString(code) {
			t.Fatalf("generated code %q does not match expected format", code)
		}
		if _, ok := seen[code]; ok {
			t.Fatalf("generated code %q twice", code)
		}
		seen[code] = struct{}{}
	}
}

func TestJoinRoom(t *testing.T) {
	ms := NewMemStore()
	if _, _, err := ms.CreateRoom("TEST1", "abc", "s1", alice); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	t.Run("wrong password", func(t *testing.T) {
		if _, _, err := ms.JoinRoom("TEST1", "wrong", "s2", bob); !errors.Is(err, ErrWrongPassword) {
			t.Fatalf("err = %v, want ErrWrongPassword", err)
		}
	})

	t.Run("missing password", func(t *testing.T) {
		if _, _, err := ms.JoinRoom("TEST1", "", "s2", bob); !errors.Is(err, ErrWrongPassword) {
			t.Fatalf("err = %v, want ErrWrongPassword", err)
		}
	})

	t.Run("unknown room", func(t *testing.T) {
		if _, _, err := ms.JoinRoom("NOPE", "", "s2", bob); !errors.Is(err, ErrRoomNotFound) {
			t.Fatalf("err = %v, want ErrRoomNotFound", err)
		}
	})

	t.Run("lowercase code with correct password", func(t *testing.T) {
		code, users, err := ms.JoinRoom("test1", "abc", "s2", bob)
		if err != nil {
			t.Fatalf("JoinRoom: %v", err)
		}
		if code != "TEST1" {
			t.Errorf("code = %q, want normalized TEST1", code)
		}
		if len(users) != 2 || users[0] != alice || users[1] != bob {
			t.Errorf("users = %v, want [alice bob] in join order", users)
		}
	})
}

func TestJoinOrderPreserved(t *testing.T) {
	ms := NewMemStore()
	if _, _, err := ms.CreateRoom("ROOM1", "", "s1", alice); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, _, err := ms.JoinRoom("ROOM1", "", "s2", bob); err != nil {
		t.Fatalf("JoinRoom bob: %v", err)
	}
	_, users, err := ms.JoinRoom("ROOM1", "", "s3", carol)
	if err != nil {
		t.Fatalf("JoinRoom carol: %v", err)
	}
	want := []model.User{alice, bob, carol}
	for i := range want {
		if users[i] != want[i] {
			t.Fatalf("users = %v, want %v", users, want)
		}
	}
}

func TestLeaveRoom(t *testing.T) {
	ms := NewMemStore()
	if _, _, err := ms.CreateRoom("ROOM1", "", "s1", alice); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, _, err := ms.JoinRoom("ROOM1", "", "s2", bob); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	users, removed, err := ms.LeaveRoom("ROOM1", "s1")
	if err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if removed {
		t.Fatal("room removed while still occupied")
	}
	if len(users) != 1 || users[0] != bob {
		t.Fatalf("users = %v, want [bob]", users)
	}

	if _, _, err = ms.LeaveRoom("ROOM1", "s1"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("second leave err = %v, want ErrNotAMember", err)
	}
}

func TestPersistentRoomSurvivesEmpty(t *testing.T) {
	ms := NewMemStore()
	if _, _, err := ms.CreateRoom("ROOM1", "", "s1", alice); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	users, removed, err := ms.LeaveRoom("ROOM1", "s1")
	if err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if removed {
		t.Fatal("persistent room was removed when emptied")
	}
	if len(users) != 0 {
		t.Fatalf("users = %v, want empty", users)
	}

	// The code stays reserved and can be joined again.
	code, users, err := ms.JoinRoom("ROOM1", "", "s2", bob)
	if err != nil {
		t.Fatalf("JoinRoom after empty: %v", err)
	}
	if code != "ROOM1" || len(users) != 1 || users[0] != bob {
		t.Fatalf("rejoin got code=%q users=%v", code, users)
	}
}

func TestLeaveRemovesOnlyMatchingSession(t *testing.T) {
	// Two sessions can carry the same user id; leaving must drop exactly
	// one users entry, keyed by session, not by user id.
	ms := NewMemStore()
	if _, _, err := ms.CreateRoom("ROOM1", "", "s1", alice); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, _, err := ms.JoinRoom("ROOM1", "", "s2", alice); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	users, _, err := ms.LeaveRoom("ROOM1", "s1")
	if err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("users = %v, want exactly one remaining entry", users)
	}
}

func TestGetRoomAndStats(t *testing.T) {
	ms := NewMemStore()
	if _, _, err := ms.CreateRoom("ROOM1", "", "s1", alice); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, _, err := ms.JoinRoom("ROOM1", "", "s2", bob); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	room, err := ms.GetRoom("room1")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room.Code != "ROOM1" || !room.Persistent || len(room.Users) != 2 {
		t.Fatalf("room = %+v", room)
	}

	if _, err = ms.GetRoom("NOPE"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("GetRoom unknown err = %v, want ErrRoomNotFound", err)
	}

	rooms, members := ms.Stats()
	if rooms != 1 || members != 2 {
		t.Fatalf("Stats() = %d rooms %d members, want 1 and 2", rooms, members)
	}
}
