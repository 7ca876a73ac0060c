// Package protocol defines the wire messages exchanged with signaling
// clients. Negotiation payloads, drawing data and timestamps are opaque to
// the server and pass through as raw JSON.
package protocol

import "encoding/json"

// ICEServer describes STUN/TURN servers advertised to clients.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Inbound is the envelope clients send over the socket.
type Inbound struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	Target    string          `json:"target,omitempty"`
	Signal    json.RawMessage `json:"signal,omitempty"`
	DrawData  json.RawMessage `json:"draw_data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// Welcome is sent once after the socket is accepted.
type Welcome struct {
	Type       string      `json:"type"`
	Username   string      `json:"username"`
	ICEServers []ICEServer `json:"ice_servers,omitempty"`
	ICEMode    string      `json:"ice_mode,omitempty"`
}

// Presence announces a join or leave together with the resulting
// participant list.
type Presence struct {
	Type         string   `json:"type"`
	Username     string   `json:"username"`
	Participants []string `json:"participants"`
}

// Signal relays negotiation data from one peer.
type Signal struct {
	Type   string          `json:"type"`
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

// Draw relays a whiteboard stroke to the room.
type Draw struct {
	Type     string          `json:"type"`
	Username string          `json:"username"`
	DrawData json.RawMessage `json:"draw_data"`
}

// Chat relays a chat line to the room, sender included.
type Chat struct {
	Type      string          `json:"type"`
	Username  string          `json:"username"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}
