package ws

import (
	"encoding/json"
	"errors"
	"testing"

	"tunnel-chat/config"
	"tunnel-chat/models"
	"tunnel-chat/repository"
	"tunnel-chat/services"
)

func newHubForTest(t *testing.T, msgRepo repository.MessageRepository) (*Hub, *services.RoomService, *services.AuthService) {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:        "test-secret",
		JWTExpiry:        1,
		MaxMessageLength: 2000,
		HistoryLimit:     100,
	}
	if msgRepo == nil {
		msgRepo = repository.NewInMemoryMessageRepo(100)
	}
	rooms := services.NewRoomService(repository.NewInMemoryRoomRepo())
	msgs := services.NewMessageService(msgRepo, rooms, cfg)
	auth := services.NewAuthService(repository.NewInMemoryUserRepo(), cfg)
	return NewHub(auth, rooms, msgs), rooms, auth
}

// connect binds an identity over the guest path and discards the
// handshake reply.
func connect(t *testing.T, h *Hub, username string) *Client {
	t.Helper()
	c := newClient(h, nil)
	h.handle(c, &Envelope{Type: TypeSetUsername, Username: username})
	if events := drain(c); len(events) != 1 || events[0]["type"] != TypeUsernameSet {
		t.Fatalf("expected USERNAME_SET, got %v", events)
	}
	return c
}

// drain decodes everything currently buffered for the client.
func drain(c *Client) []map[string]any {
	var out []map[string]any
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return out
			}
			var event map[string]any
			if err := json.Unmarshal(raw, &event); err != nil {
				panic(err)
			}
			out = append(out, event)
		default:
			return out
		}
	}
}

func eventsOfType(events []map[string]any, eventType string) []map[string]any {
	var out []map[string]any
	for _, e := range events {
		if e["type"] == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestAuthBindsIdentity(t *testing.T) {
	h, _, auth := newHubForTest(t, nil)
	token, _, err := auth.Register("alice", "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	c := newClient(h, nil)
	h.handle(c, &Envelope{Type: TypeAuth, Token: token})

	events := drain(c)
	if len(events) != 1 || events[0]["type"] != TypeAuthResponse || events[0]["success"] != true {
		t.Fatalf("expected successful AUTH_RESPONSE, got %v", events)
	}
	if _, online := h.Presence().Lookup("alice"); !online {
		t.Fatal("authenticated identity should be present")
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	h, _, _ := newHubForTest(t, nil)

	c := newClient(h, nil)
	h.handle(c, &Envelope{Type: TypeAuth, Token: "garbage"})

	events := drain(c)
	if len(events) != 1 || events[0]["type"] != TypeError {
		t.Fatalf("expected ERROR, got %v", events)
	}
	if c.Username() != "" {
		t.Fatal("failed auth must not bind an identity")
	}

	// The connection stays open and may retry.
	h.handle(c, &Envelope{Type: TypeSetUsername, Username: "alice"})
	if events := drain(c); len(events) != 1 || events[0]["type"] != TypeUsernameSet {
		t.Fatalf("retry after failed auth should work, got %v", events)
	}
}

func TestOperationsRequireIdentity(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	rooms.CreateRoom("General", "system", false, false)

	c := newClient(h, nil)
	for _, env := range []*Envelope{
		{Type: TypeJoinRoom, RoomID: "General"},
		{Type: TypeChat, RoomID: "General", Message: "hi"},
		{Type: TypeLeaveRoom, RoomID: "General"},
	} {
		h.handle(c, env)
		events := drain(c)
		if len(events) != 1 || events[0]["error"] != "Authentication required" {
			t.Fatalf("%s without identity should be rejected, got %v", env.Type, events)
		}
	}
}

func TestBindSupersedesOldConnection(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	rooms.CreateRoom("General", "system", false, false)

	c1 := connect(t, h, "alice")
	h.handle(c1, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	drain(c1)

	c2 := connect(t, h, "alice")
	h.handle(c2, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	drain(c2)

	if got, _ := h.Presence().Lookup("alice"); got != c2 {
		t.Fatal("registry must point at the new connection")
	}
	if len(h.Presence().Snapshot()) != 1 {
		t.Fatal("exactly one live entry per identity")
	}

	// The superseded socket ran its disconnect, but the identity's room
	// membership must survive for the successor.
	if !rooms.IsMember("General", "alice") {
		t.Fatal("supersede must not strip the identity's room membership")
	}

	// The new connection still receives traffic.
	bob := connect(t, h, "bob")
	h.handle(bob, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	if chats := eventsOfType(drain(c2), TypeUserJoined); len(chats) != 1 {
		t.Fatal("successor connection should receive room events")
	}
}

func TestJoinRoomFlow(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	rooms.CreateRoom("General", "", false, false)

	alice := connect(t, h, "alice")
	h.handle(alice, &Envelope{Type: TypeJoinRoom, RoomID: "General"})

	events := drain(alice)
	joined := eventsOfType(events, TypeRoomJoined)
	if len(joined) != 1 {
		t.Fatalf("expected ROOM_JOINED, got %v", events)
	}
	if joined[0]["roomId"] != "General" || joined[0]["roomName"] != "General" {
		t.Fatalf("unexpected ROOM_JOINED payload: %v", joined[0])
	}
	if joined[0]["activeUsers"] != float64(1) {
		t.Fatalf("first joiner should see activeUsers 1, got %v", joined[0]["activeUsers"])
	}
	if _, hasKey := joined[0]["encryptionKey"]; hasKey {
		t.Fatal("plain room must not disclose a key")
	}

	bob := connect(t, h, "bob")
	h.handle(bob, &Envelope{Type: TypeJoinRoom, RoomID: "General"})

	aliceEvents := drain(alice)
	userJoined := eventsOfType(aliceEvents, TypeUserJoined)
	if len(userJoined) != 1 || userJoined[0]["username"] != "bob" {
		t.Fatalf("alice should see bob join, got %v", aliceEvents)
	}
	if userJoined[0]["activeUsers"] != float64(2) {
		t.Fatalf("unexpected activeUsers: %v", userJoined[0]["activeUsers"])
	}
	system := eventsOfType(aliceEvents, TypeChat)
	if len(system) != 1 || system[0]["sender"] != SystemSender {
		t.Fatalf("alice should get the system notice, got %v", aliceEvents)
	}

	if joined := eventsOfType(drain(bob), TypeUserJoined); len(joined) != 0 {
		t.Fatal("the joiner must not receive their own USER_JOINED")
	}
}

func TestJoinMissingRoom(t *testing.T) {
	h, _, _ := newHubForTest(t, nil)

	alice := connect(t, h, "alice")
	h.handle(alice, &Envelope{Type: TypeJoinRoom, RoomID: "nope"})

	events := drain(alice)
	if len(events) != 1 || events[0]["error"] != "Room not found" {
		t.Fatalf("expected Room not found, got %v", events)
	}
}

func TestJoinPrivateRoomAsNonMember(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	room, _ := rooms.CreateRoom("Secret", "alice", true, false)

	bob := connect(t, h, "bob")
	h.handle(bob, &Envelope{Type: TypeJoinRoom, RoomID: room.ID})

	events := drain(bob)
	if len(events) != 1 || events[0]["error"] != "You are not a member of this room" {
		t.Fatalf("private room refusal should name membership, got %v", events)
	}
}

func TestJoinEncryptedRoomDisclosesKey(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	room, _ := rooms.CreateRoom("Secret", "alice", true, true)

	alice := connect(t, h, "alice")
	h.handle(alice, &Envelope{Type: TypeJoinRoom, RoomID: room.ID})

	joined := eventsOfType(drain(alice), TypeRoomJoined)
	if len(joined) != 1 {
		t.Fatal("expected ROOM_JOINED")
	}
	if joined[0]["encryptionKey"] != room.EncryptionKey {
		t.Fatal("member join must disclose the room key")
	}
	if joined[0]["isEncrypted"] != true {
		t.Fatalf("unexpected payload: %v", joined[0])
	}
}

func TestBroadcastCompleteness(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	rooms.CreateRoom("General", "", false, false)

	clients := map[string]*Client{}
	for _, name := range []string{"alice", "bob", "carol"} {
		c := connect(t, h, name)
		h.handle(c, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
		clients[name] = c
	}
	for _, c := range clients {
		drain(c)
	}

	h.handle(clients["alice"], &Envelope{Type: TypeChat, RoomID: "General", Message: "hi"})

	// Exactly one CHAT per member: the echo for the sender, one delivery
	// for each of the others. Three writes total.
	for name, c := range clients {
		events := drain(c)
		chats := eventsOfType(events, TypeChat)
		if len(chats) != 1 {
			t.Fatalf("%s should receive exactly one CHAT, got %v", name, events)
		}
		if chats[0]["sender"] != "alice" || chats[0]["message"] != "hi" {
			t.Fatalf("unexpected CHAT for %s: %v", name, chats[0])
		}
	}
}

func TestBroadcastPartialLiveness(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	rooms.CreateRoom("General", "", false, false)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	carol := connect(t, h, "carol")
	for _, c := range []*Client{alice, bob, carol} {
		h.handle(c, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	}
	for _, c := range []*Client{alice, bob, carol} {
		drain(c)
	}

	// Bob goes offline but stays a recorded member.
	h.Presence().UnbindIf("bob", bob)

	h.handle(alice, &Envelope{Type: TypeChat, RoomID: "General", Message: "hi"})

	aliceEvents := drain(alice)
	if errs := eventsOfType(aliceEvents, TypeError); len(errs) != 0 {
		t.Fatalf("offline member must not surface an error to the sender: %v", errs)
	}
	if chats := eventsOfType(aliceEvents, TypeChat); len(chats) != 1 {
		t.Fatalf("sender should still get the echo, got %v", aliceEvents)
	}
	if chats := eventsOfType(drain(carol), TypeChat); len(chats) != 1 {
		t.Fatal("live members should still receive the message")
	}
}

func TestChatRequiresMembership(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	rooms.CreateRoom("General", "", false, false)

	alice := connect(t, h, "alice")
	h.handle(alice, &Envelope{Type: TypeChat, RoomID: "General", Message: "hi"})

	events := drain(alice)
	if len(events) != 1 || events[0]["error"] != "You are not a member of this room" {
		t.Fatalf("chat without membership should be rejected, got %v", events)
	}
}

type failingMessageRepo struct{}

func (failingMessageRepo) Append(*models.Message) error { return errors.New("disk on fire") }
func (failingMessageRepo) ListByRoom(string, int) ([]models.Message, error) {
	return nil, errors.New("disk on fire")
}
func (failingMessageRepo) CountByRoom(string) (int, error) { return 0, errors.New("disk on fire") }

func TestPersistenceFailureStillBroadcasts(t *testing.T) {
	h, rooms, _ := newHubForTest(t, failingMessageRepo{})
	rooms.CreateRoom("General", "", false, false)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	h.handle(alice, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	h.handle(bob, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	drain(alice)
	drain(bob)

	h.handle(alice, &Envelope{Type: TypeChat, RoomID: "General", Message: "hi"})

	aliceEvents := drain(alice)
	if errs := eventsOfType(aliceEvents, TypeError); len(errs) != 1 || errs[0]["error"] != "Failed to save message" {
		t.Fatalf("sender should be told persistence failed, got %v", aliceEvents)
	}
	if chats := eventsOfType(aliceEvents, TypeChat); len(chats) != 1 {
		t.Fatalf("sender still gets the echo, got %v", aliceEvents)
	}
	if chats := eventsOfType(drain(bob), TypeChat); len(chats) != 1 {
		t.Fatal("live members must still receive the message despite the persistence failure")
	}
}

func TestLeaveRoomNotifies(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	rooms.CreateRoom("General", "", false, false)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	h.handle(alice, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	h.handle(bob, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	drain(alice)
	drain(bob)

	h.handle(bob, &Envelope{Type: TypeLeaveRoom, RoomID: "General"})

	bobEvents := drain(bob)
	if left := eventsOfType(bobEvents, TypeRoomLeft); len(left) != 1 || left[0]["roomId"] != "General" {
		t.Fatalf("expected ROOM_LEFT, got %v", bobEvents)
	}

	aliceEvents := drain(alice)
	userLeft := eventsOfType(aliceEvents, TypeUserLeft)
	if len(userLeft) != 1 || userLeft[0]["username"] != "bob" {
		t.Fatalf("alice should see bob leave, got %v", aliceEvents)
	}
	if userLeft[0]["activeUsers"] != float64(1) {
		t.Fatalf("unexpected activeUsers: %v", userLeft[0])
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	rooms.CreateRoom("General", "", false, false)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	h.handle(alice, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	h.handle(bob, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	drain(alice)
	drain(bob)

	bob.terminate()

	if _, online := h.Presence().Lookup("bob"); online {
		t.Fatal("terminated connection should be unbound")
	}
	if rooms.IsMember("General", "bob") {
		t.Fatal("disconnect should leave joined rooms")
	}

	aliceEvents := drain(alice)
	if left := eventsOfType(aliceEvents, TypeUserLeft); len(left) != 1 || left[0]["username"] != "bob" {
		t.Fatalf("alice should see bob's departure, got %v", aliceEvents)
	}

	// Termination is idempotent.
	bob.terminate()
}

func TestFileTransferBroadcast(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	rooms.CreateRoom("General", "", false, false)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	h.handle(alice, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	h.handle(bob, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	drain(alice)
	drain(bob)

	h.handle(alice, &Envelope{
		Type:     TypeFileTransfer,
		RoomID:   "General",
		FileInfo: map[string]any{"fileId": "01H", "name": "doc.pdf"},
	})

	// The uploader gets the notice too.
	for name, c := range map[string]*Client{"alice": alice, "bob": bob} {
		shared := eventsOfType(drain(c), TypeFileShared)
		if len(shared) != 1 {
			t.Fatalf("%s should receive FILE_SHARED", name)
		}
		info, ok := shared[0]["fileInfo"].(map[string]any)
		if !ok || info["name"] != "doc.pdf" {
			t.Fatalf("unexpected fileInfo: %v", shared[0])
		}
		if _, stamped := info["sharedAt"]; !stamped {
			t.Fatal("fileInfo should be stamped with sharedAt")
		}
	}
}

func TestBroadcastAfterConcurrentDisconnect(t *testing.T) {
	h, rooms, _ := newHubForTest(t, nil)
	rooms.CreateRoom("General", "", false, false)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	h.handle(alice, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	h.handle(bob, &Envelope{Type: TypeJoinRoom, RoomID: "General"})
	drain(alice)
	drain(bob)

	// A fan-out on another goroutine can resolve bob just before his
	// teardown runs and still hold the pointer afterwards.
	stale, _ := h.Presence().Lookup("bob")
	bob.terminate()

	// Must drop silently, never panic the process.
	stale.enqueue(event(map[string]any{"type": TypeChat, "message": "late"}))
	if events := drain(stale); len(events) != 0 {
		t.Fatalf("writes after teardown must be dropped, got %v", events)
	}

	h.handle(alice, &Envelope{Type: TypeChat, RoomID: "General", Message: "hi"})
	if chats := eventsOfType(drain(alice), TypeChat); len(chats) != 1 {
		t.Fatal("room traffic must continue after a member's teardown")
	}
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err   error
		join  string
		leave string
	}{
		{err: services.ErrRoomNotFound, join: "Room not found", leave: "Room not found"},
		{err: services.ErrNotAMember, join: "You are not a member of this room", leave: "You are not a member of this room"},
		{err: errors.New("backend down"), join: "Failed to join room", leave: "Failed to leave room"},
	}
	for _, tc := range cases {
		if got := joinErrorMessage(tc.err); got != tc.join {
			t.Fatalf("joinErrorMessage(%v) = %q, want %q", tc.err, got, tc.join)
		}
		if got := leaveErrorMessage(tc.err); got != tc.leave {
			t.Fatalf("leaveErrorMessage(%v) = %q, want %q", tc.err, got, tc.leave)
		}
	}
}

func TestUnknownEnvelopeIgnored(t *testing.T) {
	h, _, _ := newHubForTest(t, nil)

	alice := connect(t, h, "alice")
	h.handle(alice, &Envelope{Type: "BOGUS"})

	if events := drain(alice); len(events) != 0 {
		t.Fatalf("unknown types are ignored, got %v", events)
	}
}
