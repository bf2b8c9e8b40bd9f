package server

import (
	"context"
	"encoding/json"
	"expvar"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/skip2/go-qrcode"

	"github.com/wfunc/tapserver/logger"
	"github.com/wfunc/tapserver/room"
	"github.com/wfunc/tapserver/services"
)

const qrSize = 256

// Router builds the HTTP routes: the websocket endpoint, read-only room views,
// health and metrics.
func (s *GameServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.monitor.Handler())
	r.Handle("/debug/vars", expvar.Handler())

	r.Route("/rooms", func(r chi.Router) {
		r.Get("/", s.handleListRooms)
		r.Get("/{id}", s.handleGetRoom)
		r.Get("/{id}/qr.png", s.handleRoomQR)
		r.Get("/{id}/rounds", s.handleRecentRounds)
	})
	r.Get("/winners", s.handleTopWinners)

	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logger.Log.Infow("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"latency", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	code, status := errorCode(err)
	if status >= http.StatusInternalServerError {
		logger.Log.Errorf("HTTP request failed: %v", err)
	}
	writeJSON(w, status, map[string]string{"code": code, "error": err.Error()})
}

func (s *GameServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "store": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *GameServer) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.machine.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.monitor.SetActiveRooms(len(rooms))
	writeJSON(w, http.StatusOK, rooms)
}

func (s *GameServer) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	snap, err := s.machine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// JoinURL is the link encoded in a room's QR code.
func (s *GameServer) JoinURL(roomID string) string {
	return s.cfg.PublicURL + "/?room=" + url.QueryEscape(roomID)
}

func (s *GameServer) handleRoomQR(w http.ResponseWriter, r *http.Request) {
	snap, err := s.machine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	png, err := qrcode.Encode(s.JoinURL(snap.Room.ID), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(png)
}

func (s *GameServer) handleRecentRounds(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": services.ErrArchiveDisabled.Error()})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	rounds, err := s.archive.RecentRounds(r.Context(), room.NormalizeRoomID(chi.URLParam(r, "id")), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (s *GameServer) handleTopWinners(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": services.ErrArchiveDisabled.Error()})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	wins, err := s.archive.TopWinners(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wins)
}
