package signaling

import (
	"encoding/json"
	"io"
	"log"
	"testing"

	"meetrelay/pkg/rooms"
	"meetrelay/pkg/signaling/protocol"
)

// testPeer records every frame delivered to it, decoded for assertions.
type testPeer struct {
	name string
	msgs []map[string]interface{}
}

func (p *testPeer) Send(data []byte) bool {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil {
		panic("testPeer received unmarshalable frame: " + err.Error())
	}
	p.msgs = append(p.msgs, msg)
	return true
}

func (p *testPeer) ofType(typ string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range p.msgs {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func participantSet(msg map[string]interface{}) map[string]bool {
	set := map[string]bool{}
	list, _ := msg["participants"].([]interface{})
	for _, v := range list {
		if s, ok := v.(string); ok {
			set[s] = true
		}
	}
	return set
}

func newTestHub(t *testing.T) (*Hub, *rooms.Store) {
	t.Helper()
	store := rooms.NewStore()
	hub := NewHub(store, HubOptions{Logger: log.New(io.Discard, "", 0)})
	return hub, store
}

func TestJoinNotifiesFullMembership(t *testing.T) {
	hub, store := newTestHub(t)
	room := store.NewRoom("alice")

	alice := &testPeer{name: "alice"}
	bob := &testPeer{name: "bob"}

	if !hub.Join(room.ID, "alice", alice) {
		t.Fatal("alice join failed")
	}
	if !hub.Join(room.ID, "bob", bob) {
		t.Fatal("bob join failed")
	}

	for _, p := range []*testPeer{alice, bob} {
		joins := p.ofType("user_joined")
		if len(joins) == 0 {
			t.Fatalf("%s received no user_joined", p.name)
		}
		last := joins[len(joins)-1]
		if last["username"] != "bob" {
			t.Errorf("%s: last join username = %v, want bob", p.name, last["username"])
		}
		set := participantSet(last)
		if !set["alice"] || !set["bob"] || len(set) != 2 {
			t.Errorf("%s: participants = %v, want {alice, bob}", p.name, set)
		}
	}
}

func TestJoinUnknownRoomEmitsNothing(t *testing.T) {
	hub, _ := newTestHub(t)
	alice := &testPeer{name: "alice"}

	if hub.Join("ghost", "alice", alice) {
		t.Error("join to unknown room reported success")
	}
	if len(alice.msgs) != 0 {
		t.Errorf("join to unknown room delivered %d messages", len(alice.msgs))
	}
}

func TestDirectedSignalReachesOnlyTarget(t *testing.T) {
	hub, store := newTestHub(t)
	room := store.NewRoom("alice")

	alice := &testPeer{name: "alice"}
	bob := &testPeer{name: "bob"}
	carol := &testPeer{name: "carol"}
	hub.Join(room.ID, "alice", alice)
	hub.Join(room.ID, "bob", bob)
	hub.Join(room.ID, "carol", carol)

	payload := json.RawMessage(`{"sdp":"offer"}`)
	hub.Signal(room.ID, "alice", "bob", payload)

	got := bob.ofType("signal")
	if len(got) != 1 {
		t.Fatalf("bob received %d signals, want 1", len(got))
	}
	if got[0]["from"] != "alice" {
		t.Errorf("signal from = %v, want alice", got[0]["from"])
	}
	if sig, _ := json.Marshal(got[0]["signal"]); string(sig) != `{"sdp":"offer"}` {
		t.Errorf("signal payload = %s", sig)
	}
	if len(alice.ofType("signal")) != 0 {
		t.Error("sender received its own directed signal")
	}
	if len(carol.ofType("signal")) != 0 {
		t.Error("bystander received a directed signal")
	}
}

func TestSignalFallsBackToBroadcastWhenTargetAbsent(t *testing.T) {
	hub, store := newTestHub(t)
	room := store.NewRoom("alice")

	alice := &testPeer{name: "alice"}
	bob := &testPeer{name: "bob"}
	carol := &testPeer{name: "carol"}
	hub.Join(room.ID, "alice", alice)
	hub.Join(room.ID, "bob", bob)
	hub.Join(room.ID, "carol", carol)

	hub.Signal(room.ID, "alice", "departed", json.RawMessage(`"x"`))

	if len(bob.ofType("signal")) != 1 || len(carol.ofType("signal")) != 1 {
		t.Error("fallback broadcast missed a participant")
	}
	if len(alice.ofType("signal")) != 0 {
		t.Error("fallback broadcast included the sender")
	}
}

func TestDisconnectNotifiesRemainingMembers(t *testing.T) {
	hub, store := newTestHub(t)
	room := store.NewRoom("alice")

	alice := &testPeer{name: "alice"}
	bob := &testPeer{name: "bob"}
	hub.Join(room.ID, "alice", alice)
	hub.Join(room.ID, "bob", bob)

	// Abrupt loss, no explicit leave.
	hub.Disconnect(room.ID, "alice", alice)

	left := bob.ofType("user_left")
	if len(left) != 1 {
		t.Fatalf("bob received %d user_left, want 1", len(left))
	}
	if left[0]["username"] != "alice" {
		t.Errorf("user_left username = %v, want alice", left[0]["username"])
	}
	set := participantSet(left[0])
	if !set["bob"] || len(set) != 1 {
		t.Errorf("user_left participants = %v, want {bob}", set)
	}
	if len(alice.ofType("user_left")) != 0 {
		t.Error("departed participant was addressed")
	}

	if got, err := store.Get(room.ID); err != nil || len(got.Participants) != 1 {
		t.Errorf("room after disconnect: %+v, err=%v", got, err)
	}
}

func TestDisconnectAfterLeaveIsIdempotent(t *testing.T) {
	hub, store := newTestHub(t)
	room := store.NewRoom("alice")

	alice := &testPeer{name: "alice"}
	bob := &testPeer{name: "bob"}
	hub.Join(room.ID, "alice", alice)
	hub.Join(room.ID, "bob", bob)

	hub.Leave(room.ID, "alice")
	before := len(bob.ofType("user_left"))

	// The connection drops right after the explicit leave.
	hub.Disconnect(room.ID, "alice", alice)

	if after := len(bob.ofType("user_left")); after != before {
		t.Errorf("duplicate user_left after reconciled disconnect: %d -> %d", before, after)
	}
}

func TestLastLeaveReclaimsRoomAndLateJoinIsNoOp(t *testing.T) {
	hub, store := newTestHub(t)
	room := store.NewRoom("alice")

	alice := &testPeer{name: "alice"}
	bob := &testPeer{name: "bob"}
	hub.Join(room.ID, "alice", alice)
	hub.Join(room.ID, "bob", bob)
	hub.Leave(room.ID, "alice")
	hub.Leave(room.ID, "bob")

	if _, err := store.Get(room.ID); err == nil {
		t.Fatal("emptied room still resolvable")
	}

	late := &testPeer{name: "late"}
	if hub.Join(room.ID, "late", late) {
		t.Error("join to reclaimed room reported success")
	}
	if len(late.msgs) != 0 {
		t.Errorf("join to reclaimed room delivered %d messages", len(late.msgs))
	}
}

func TestChatIncludesSender(t *testing.T) {
	hub, store := newTestHub(t)
	room := store.NewRoom("alice")

	alice := &testPeer{name: "alice"}
	bob := &testPeer{name: "bob"}
	hub.Join(room.ID, "alice", alice)
	hub.Join(room.ID, "bob", bob)

	hub.Chat(room.ID, "alice", "hello", json.RawMessage(`"2026-08-29T10:00:00Z"`))

	for _, p := range []*testPeer{alice, bob} {
		chats := p.ofType("chat_message")
		if len(chats) != 1 {
			t.Fatalf("%s received %d chat messages, want 1", p.name, len(chats))
		}
		if chats[0]["username"] != "alice" || chats[0]["message"] != "hello" {
			t.Errorf("%s: chat = %v", p.name, chats[0])
		}
		if chats[0]["timestamp"] != "2026-08-29T10:00:00Z" {
			t.Errorf("%s: timestamp not passed through: %v", p.name, chats[0]["timestamp"])
		}
	}
}

func TestEmptyChatIsDropped(t *testing.T) {
	hub, store := newTestHub(t)
	room := store.NewRoom("alice")

	alice := &testPeer{name: "alice"}
	bob := &testPeer{name: "bob"}
	hub.Join(room.ID, "alice", alice)
	hub.Join(room.ID, "bob", bob)

	hub.Chat(room.ID, "alice", "", nil)

	if len(alice.ofType("chat_message"))+len(bob.ofType("chat_message")) != 0 {
		t.Error("empty chat message was delivered")
	}
}

func TestDrawExcludesSender(t *testing.T) {
	hub, store := newTestHub(t)
	room := store.NewRoom("alice")

	alice := &testPeer{name: "alice"}
	bob := &testPeer{name: "bob"}
	hub.Join(room.ID, "alice", alice)
	hub.Join(room.ID, "bob", bob)

	hub.Draw(room.ID, "alice", json.RawMessage(`{"x":1,"y":2}`))

	if len(bob.ofType("whiteboard_draw")) != 1 {
		t.Error("draw did not reach the other participant")
	}
	if len(alice.ofType("whiteboard_draw")) != 0 {
		t.Error("draw was echoed back to the sender")
	}
}

func TestHandleInboundJoinSwitchesRooms(t *testing.T) {
	hub, store := newTestHub(t)
	first := store.NewRoom("bob")
	second := store.NewRoom("dana")

	bob := &testPeer{name: "bob"}
	hub.Join(first.ID, "bob", bob)

	carol := &client{hub: hub, username: "carol", send: make(chan []byte, 32)}
	hub.handleInbound(carol, protocol.Inbound{Type: "join", RoomID: first.ID})
	if carol.room != first.ID {
		t.Fatalf("room after first join = %q, want %q", carol.room, first.ID)
	}

	// A connection holds one room: joining another must leave the first.
	hub.handleInbound(carol, protocol.Inbound{Type: "join", RoomID: second.ID})
	if carol.room != second.ID {
		t.Errorf("room after switch = %q, want %q", carol.room, second.ID)
	}

	got, err := store.Get(first.ID)
	if err != nil {
		t.Fatalf("first room: %v", err)
	}
	if len(got.Participants) != 1 || got.Participants[0] != "bob" {
		t.Errorf("first room participants = %v, want [bob]", got.Participants)
	}
	left := bob.ofType("user_left")
	if len(left) != 1 || left[0]["username"] != "carol" {
		t.Errorf("bob's user_left notifications = %v", left)
	}

	got, err = store.Get(second.ID)
	if err != nil {
		t.Fatalf("second room: %v", err)
	}
	if len(got.Participants) != 1 || got.Participants[0] != "carol" {
		t.Errorf("second room participants = %v, want [carol]", got.Participants)
	}
}

func TestHandleInboundLeaveClearsRoom(t *testing.T) {
	hub, store := newTestHub(t)
	room := store.NewRoom("carol")

	carol := &client{hub: hub, username: "carol", send: make(chan []byte, 32)}
	hub.handleInbound(carol, protocol.Inbound{Type: "join", RoomID: room.ID})
	hub.handleInbound(carol, protocol.Inbound{Type: "leave", RoomID: room.ID})

	if carol.room != "" {
		t.Errorf("room after leave = %q, want empty", carol.room)
	}
	if _, err := store.Get(room.ID); err == nil {
		t.Error("emptied room still resolvable after inbound leave")
	}
}

func TestHandleInboundDropsMissingRoomID(t *testing.T) {
	hub, store := newTestHub(t)
	room := store.NewRoom("bob")
	bob := &testPeer{name: "bob"}
	hub.Join(room.ID, "bob", bob)
	seen := len(bob.msgs)

	carol := &client{hub: hub, username: "carol", send: make(chan []byte, 32)}
	for _, typ := range []string{"join", "leave", "signal", "whiteboard_draw", "chat_message"} {
		hub.handleInbound(carol, protocol.Inbound{Type: typ, Message: "hi"})
	}

	if carol.room != "" {
		t.Errorf("join without room_id set room = %q", carol.room)
	}
	if len(bob.msgs) != seen {
		t.Errorf("events without room_id delivered %d extra messages", len(bob.msgs)-seen)
	}
	if got, err := store.Get(room.ID); err != nil || len(got.Participants) != 1 {
		t.Errorf("room mutated by events without room_id: %+v, err=%v", got, err)
	}
}

func TestRoutingToUnknownRoomEmitsNothing(t *testing.T) {
	hub, _ := newTestHub(t)
	alice := &testPeer{name: "alice"}

	hub.Signal("ghost", "alice", "bob", json.RawMessage(`"x"`))
	hub.Draw("ghost", "alice", json.RawMessage(`"x"`))
	hub.Chat("ghost", "alice", "hi", nil)

	if len(alice.msgs) != 0 {
		t.Errorf("routing to unknown room delivered %d messages", len(alice.msgs))
	}
}
