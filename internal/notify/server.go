// Package notify receives UPnP event notifications from devices and serves
// the health endpoints.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wemod/internal/engine"
	"github.com/dokzlo13/wemod/internal/hub"
)

// maxBodySize bounds a single notification body.
const maxBodySize = 1 << 20

func init() {
	chi.RegisterMethod("NOTIFY")
}

// Dispatcher delivers decoded notifications to adapters.
type Dispatcher interface {
	// Dispatch delivers attributes reported by a directly reachable device.
	Dispatch(deviceID string, attrs []engine.Attribute) bool
	// DispatchHub delivers a hub child's attribute through the hub's router.
	DispatchHub(hubID, childID string, attr engine.Attribute) bool
}

// Server listens for device notifications.
type Server struct {
	addr       string
	dispatcher Dispatcher
	ready      func() bool
	httpServer *http.Server
}

// NewServer creates a notification server. ready reports whether the
// daemon finished starting; nil means always ready.
func NewServer(host string, port int, dispatcher Dispatcher, ready func() bool) *Server {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Server{
		addr:       fmt.Sprintf("%s:%d", host, port),
		dispatcher: dispatcher,
		ready:      ready,
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method("NOTIFY", "/upnp/{deviceID}", http.HandlerFunc(s.handleNotify))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready() {
			writeStatus(w, http.StatusServiceUnavailable, "starting")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting notification server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Notification server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read notification body")
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	attrs, err := ParsePropertySet(body)
	if err != nil {
		log.Warn().Err(err).Str("device", deviceID).Msg("Malformed notification")
		http.Error(w, "Malformed property set", http.StatusBadRequest)
		return
	}

	log.Debug().
		Str("device", deviceID).
		Str("sid", r.Header.Get("SID")).
		Int("attributes", len(attrs)).
		Msg("Received notification")

	var direct []engine.Attribute
	for _, attr := range attrs {
		if attr.Name != "StatusChange" {
			direct = append(direct, attr)
			continue
		}
		childID, childAttr, err := hub.ParseStateEvent(attr.Value)
		if err != nil {
			log.Warn().Err(err).Str("hub", deviceID).Msg("Malformed hub status change")
			continue
		}
		s.dispatcher.DispatchHub(deviceID, childID, childAttr)
	}

	if len(direct) > 0 && !s.dispatcher.Dispatch(deviceID, direct) {
		log.Debug().Str("device", deviceID).Msg("Notification for unknown device")
	}

	// UPnP publishers only expect an empty 200
	w.WriteHeader(http.StatusOK)
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}
