// Package httpapi exposes the operational HTTP surface: room
// creation, IP bans, log retrieval, health and diagnostics. The
// websocket endpoint is mounted separately.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"flagfall/server"
	"flagfall/server/internal/telemetry"
)

// NewMux wires the operational endpoints onto a fresh mux. Admin
// endpoints carry the token in the path, matching the links handed to
// moderators.
func NewMux(hub *server.Hub, logger telemetry.Logger) *http.ServeMux {
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /diagnostics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, hub.DiagnosticsSnapshot())
	})

	mux.HandleFunc("POST /createGame", func(w http.ResponseWriter, r *http.Request) {
		level, err := strconv.ParseInt(r.FormValue("level"), 10, 32)
		if err != nil {
			http.Error(w, "bad level", http.StatusBadRequest)
			return
		}
		roomID, err := hub.CreateRoom(int32(level))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(roomID))
	})

	mux.HandleFunc("POST /banIP/{token}/{ip}", func(w http.ResponseWriter, r *http.Request) {
		err := hub.BanIP(r.Context(), r.PathValue("token"), r.PathValue("ip"))
		finishAdmin(w, logger, err, "banned")
	})

	mux.HandleFunc("POST /allowIP/{token}/{ip}", func(w http.ResponseWriter, r *http.Request) {
		err := hub.AllowIP(r.Context(), r.PathValue("token"), r.PathValue("ip"))
		finishAdmin(w, logger, err, "allowed")
	})

	mux.HandleFunc("GET /chatLog/{token}/{timestamp}/{range}", func(w http.ResponseWriter, r *http.Request) {
		from, err1 := strconv.ParseInt(r.PathValue("timestamp"), 10, 64)
		span, err2 := strconv.ParseInt(r.PathValue("range"), 10, 64)
		if err1 != nil || err2 != nil {
			http.Error(w, "bad time range", http.StatusBadRequest)
			return
		}
		entries, err := hub.ChatLog(r.Context(), r.PathValue("token"), from, from+span)
		if err != nil {
			failAdmin(w, logger, err)
			return
		}
		writeJSON(w, logger, entries)
	})

	mux.HandleFunc("GET /adminLog/{token}", func(w http.ResponseWriter, r *http.Request) {
		entries, err := hub.AdminLog(r.Context(), r.PathValue("token"))
		if err != nil {
			failAdmin(w, logger, err)
			return
		}
		writeJSON(w, logger, entries)
	})

	return mux
}

func finishAdmin(w http.ResponseWriter, logger telemetry.Logger, err error, ok string) {
	if err != nil {
		failAdmin(w, logger, err)
		return
	}
	_, _ = w.Write([]byte(ok))
}

func failAdmin(w http.ResponseWriter, logger telemetry.Logger, err error) {
	if errors.Is(err, server.ErrInvalidToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	logger.Printf("admin endpoint: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, logger telemetry.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Printf("encode response: %v", err)
	}
}
