package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"meetrelay/internal/app/httpapi"
	"meetrelay/internal/app/session"
	"meetrelay/pkg/metrics"
	"meetrelay/pkg/ratelimit"
	"meetrelay/pkg/rooms"
	"meetrelay/pkg/signaling"
	"meetrelay/pkg/signaling/protocol"
	"meetrelay/pkg/webrtc/ice"
)

const defaultStaticPath = "./frontend/dist"

type config struct {
	Addr          string
	StaticPath    string
	SessionSecret string
	SessionTTL    time.Duration
	RoomTTL       time.Duration
	PublicWSURL   string
	ICEServers    []protocol.ICEServer
	ICEMode       string
	CreateLimit   int
}

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	cfg := loadConfig()
	logConfig(cfg)

	store := rooms.NewStore()
	metrics.RegisterRoomStats(store)

	hub := signaling.NewHub(store, signaling.HubOptions{
		ICEServers: cfg.ICEServers,
		ICEMode:    cfg.ICEMode,
	})

	sessions := session.New(cfg.SessionSecret, cfg.SessionTTL)
	limiter := ratelimit.New(cfg.CreateLimit, time.Minute)
	settings := httpapi.Settings{
		ICEMode:     cfg.ICEMode,
		ICEServers:  cfg.ICEServers,
		PublicWSURL: cfg.PublicWSURL,
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/rooms", limiter.Middleware(httpapi.CreateRoomHandler(store, sessions)))
	mux.Handle("POST /api/rooms/{id}/join", httpapi.JoinRoomHandler(store, sessions))
	mux.Handle("GET /api/rooms/{id}", httpapi.RoomLookupHandler(store))
	mux.Handle("GET /api/settings", httpapi.SettingsHandler(settings))
	mux.Handle("/ws", httpapi.WSHandler(hub, sessions))
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.SPAHandler(cfg.StaticPath))

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("listening on %s (static: %s)", cfg.Addr, cfg.StaticPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Reap rooms whose creator never arrived.
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := store.Expire(cfg.RoomTTL); n > 0 {
					log.Printf("expired %d abandoned room(s)", n)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func loadConfig() config {
	iceMode, iceServers := ice.LoadFromEnv()
	return config{
		Addr:          getenv("ADDR", ":8080"),
		StaticPath:    getenv("STATIC_DIR", defaultStaticPath),
		SessionSecret: getenv("SESSION_SECRET", "your-secret-key-for-development"),
		SessionTTL:    getenvDuration("SESSION_TTL", 12*time.Hour),
		RoomTTL:       getenvDuration("ROOM_TTL", 5*time.Minute),
		PublicWSURL:   os.Getenv("PUBLIC_WS_URL"),
		ICEServers:    iceServers,
		ICEMode:       iceMode,
		CreateLimit:   getenvInt("ROOM_CREATE_LIMIT", 10),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func logConfig(cfg config) {
	log.Printf("config: addr=%s static_dir=%s ice_mode=%s ice_servers=%d room_ttl=%s create_limit=%d",
		cfg.Addr, cfg.StaticPath, cfg.ICEMode, len(cfg.ICEServers), cfg.RoomTTL, cfg.CreateLimit)
}
