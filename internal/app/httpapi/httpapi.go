package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"meetrelay/internal/app/session"
	"meetrelay/pkg/rooms"
	"meetrelay/pkg/signaling"
	"meetrelay/pkg/signaling/protocol"
)

// Settings is the client-facing configuration served at /api/settings.
type Settings struct {
	ICEMode     string
	ICEServers  []protocol.ICEServer
	PublicWSURL string
}

type createRequest struct {
	Username string `json:"username"`
}

// CreateRoomHandler generates a room, registers the creator and issues the
// session cookie the WS endpoint will read.
func CreateRoomHandler(store *rooms.Store, sessions *session.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		username := decodeUsername(r)
		room := store.NewRoom(username)

		if err := sessions.Issue(w, session.Session{Username: username, RoomID: room.ID}); err != nil {
			log.Printf("session issue error: %v", err)
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		payload := map[string]interface{}{
			"id":  room.ID,
			"url": roomURL(r, room.ID),
		}
		_ = json.NewEncoder(w).Encode(payload)
	})
}

// JoinRoomHandler validates the room and issues a session for it. The actual
// membership change happens later over the socket.
func JoinRoomHandler(store *rooms.Store, sessions *session.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		id := r.PathValue("id")
		room, err := store.Get(id)
		if err != nil {
			if errors.Is(err, rooms.ErrNotFound) {
				http.Error(w, "room does not exist", http.StatusNotFound)
				return
			}
			log.Printf("room lookup error: %v", err)
			http.Error(w, "room lookup failed", http.StatusInternalServerError)
			return
		}

		username := decodeUsername(r)
		if err := sessions.Issue(w, session.Session{Username: username, RoomID: room.ID}); err != nil {
			log.Printf("session issue error: %v", err)
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(room)
	})
}

// RoomLookupHandler serves a room snapshot by id.
func RoomLookupHandler(store *rooms.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		room, err := store.Get(r.PathValue("id"))
		if err != nil {
			if errors.Is(err, rooms.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			log.Printf("room lookup error: %v", err)
			http.Error(w, "failed to lookup room", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		payload := map[string]interface{}{
			"id":           room.ID,
			"creator":      room.Creator,
			"createdAt":    room.CreatedAt,
			"participants": room.Participants,
			"url":          roomURL(r, room.ID),
		}
		_ = json.NewEncoder(w).Encode(payload)
	})
}

// SettingsHandler advertises the WS endpoint and ICE servers.
func SettingsHandler(settings Settings) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		payload := map[string]interface{}{
			"wsURL":      resolveWSURL(settings, r),
			"iceMode":    settings.ICEMode,
			"iceServers": settings.ICEServers,
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("settings encode error: %v", err)
		}
	})
}

// WSHandler guards the upgrade with the session cookie and registers the
// connection under the session identity.
func WSHandler(hub *signaling.Hub, sessions *session.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sessions.FromRequest(r)
		if err != nil {
			http.Error(w, "session required", http.StatusUnauthorized)
			return
		}
		hub.Upgrade(w, r, sess.Username)
	})
}

// SPAHandler serves the frontend build, falling back to index.html for
// client-side routes.
func SPAHandler(staticDir string) http.Handler {
	fs := http.FileServer(http.Dir(staticDir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" || strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}

		path := filepath.Join(staticDir, filepath.Clean(r.URL.Path))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			fs.ServeHTTP(w, r)
			return
		}

		index := filepath.Join(staticDir, "index.html")
		http.ServeFile(w, r, index)
	})
}

func decodeUsername(r *http.Request) string {
	var req createRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = "Anonymous"
	}
	return username
}

func resolveWSURL(settings Settings, r *http.Request) string {
	if settings.PublicWSURL != "" {
		return settings.PublicWSURL
	}
	proto := "ws"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		proto = "wss"
	}
	host := r.Host
	if host == "" {
		host = "localhost:8080"
	}
	return fmt.Sprintf("%s://%s/ws", proto, host)
}

func roomURL(r *http.Request, id string) string {
	proto := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		proto = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost:8080"
	}
	return fmt.Sprintf("%s://%s/rooms/%s", proto, host, id)
}
