// Package ice assembles the STUN/TURN server list advertised to clients.
// The relay never terminates media; this is configuration pass-through only.
package ice

import (
	"log"
	"os"
	"strings"

	"meetrelay/pkg/signaling/protocol"
)

const defaultSTUN = "stun:stun.l.google.com:19302"

// LoadFromEnv parses ICE configuration from the environment.
//
// Env vars:
// - ICE_MODE: stun-turn (default), turn-only, stun-only
// - STUN_URLS / TURN_URLS: comma-separated server URLs
// - TURN_USERNAME / TURN_PASSWORD: TURN credentials (if required)
func LoadFromEnv() (mode string, servers []protocol.ICEServer) {
	mode = strings.TrimSpace(os.Getenv("ICE_MODE"))
	if mode == "" {
		mode = "stun-turn"
	}
	turnOnly := strings.EqualFold(mode, "turn-only")
	stunOnly := strings.EqualFold(mode, "stun-only")

	if !turnOnly {
		stun := splitCSV(os.Getenv("STUN_URLS"))
		if len(stun) == 0 {
			stun = []string{defaultSTUN}
		}
		servers = append(servers, protocol.ICEServer{URLs: stun})
	}

	if !stunOnly {
		if turn := splitCSV(os.Getenv("TURN_URLS")); len(turn) > 0 {
			servers = append(servers, protocol.ICEServer{
				URLs:       turn,
				Username:   strings.TrimSpace(os.Getenv("TURN_USERNAME")),
				Credential: strings.TrimSpace(os.Getenv("TURN_PASSWORD")),
			})
		} else if !turnOnly {
			log.Printf("TURN not configured; set TURN_URLS and credentials for relay fallback")
		}
	}

	if len(servers) == 0 {
		log.Printf("ICE_MODE=%s left no usable servers; falling back to default STUN", mode)
		servers = append(servers, protocol.ICEServer{URLs: []string{defaultSTUN}})
	}

	log.Printf("ICE servers loaded (mode=%s): %+v", mode, servers)
	return mode, servers
}

func splitCSV(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
