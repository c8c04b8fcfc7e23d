package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/events"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/log"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/manager"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/metrics"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

// Version is stamped by the build; /health reports it.
var Version = "dev"

// Server serves the control plane's HTTP surface: the /v1 REST API, the
// WebSocket event stream, and the health/metrics endpoints.
type Server struct {
	manager  *manager.Manager
	broker   *events.Broker
	mux      *http.ServeMux
	srv      *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates the API server around mgr and broker.
func NewServer(mgr *manager.Manager, broker *events.Broker) *Server {
	s := &Server{
		manager: mgr,
		broker:  broker,
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Clients are CLIs and consoles authenticated by bearer
			// token, not browser sessions.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.routes()
	// No WriteTimeout: the event stream and chunk uploads hold
	// connections open far longer than any sane fixed limit.
	s.srv = &http.Server{
		Handler:           s.instrument(s.mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	mux := s.mux

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /v1/images", s.authed(types.UserRoleOperator, s.handleBeginUpload))
	mux.HandleFunc("PUT /v1/images/{token}/chunk", s.authed(types.UserRoleOperator, s.handleUploadChunk))
	mux.HandleFunc("POST /v1/images/{token}/finalize", s.authed(types.UserRoleOperator, s.handleFinalizeUpload))
	mux.HandleFunc("POST /v1/images/{token}/abort", s.authed(types.UserRoleOperator, s.handleAbortUpload))
	mux.HandleFunc("GET /v1/images", s.authed(types.UserRoleViewer, s.handleListImages))
	mux.HandleFunc("GET /v1/images/{id}", s.authed(types.UserRoleViewer, s.handleGetImage))
	mux.HandleFunc("DELETE /v1/images/{id}", s.authed(types.UserRoleOperator, s.handleArchiveImage))

	mux.HandleFunc("POST /v1/machines", s.authed(types.UserRoleOperator, s.handleCreateMachine))
	mux.HandleFunc("GET /v1/machines", s.authed(types.UserRoleViewer, s.handleListMachines))
	mux.HandleFunc("GET /v1/machines/{id}", s.authed(types.UserRoleViewer, s.handleGetMachine))
	mux.HandleFunc("PUT /v1/machines/{id}", s.authed(types.UserRoleOperator, s.handleUpdateMachine))
	mux.HandleFunc("DELETE /v1/machines/{id}", s.authed(types.UserRoleOperator, s.handleDeleteMachine))
	mux.HandleFunc("GET /v1/machines/{id}/boot-script", s.authed(types.UserRoleViewer, s.handleBootScript))

	mux.HandleFunc("POST /v1/sessions", s.authed(types.UserRoleOperator, s.handleStartSession))
	mux.HandleFunc("GET /v1/sessions", s.authed(types.UserRoleViewer, s.handleListSessions))
	mux.HandleFunc("GET /v1/sessions/{id}", s.authed(types.UserRoleViewer, s.handleGetSession))
	mux.HandleFunc("POST /v1/sessions/{id}/stop", s.authed(types.UserRoleOperator, s.handleStopSession))
	mux.HandleFunc("GET /v1/targets", s.authed(types.UserRoleViewer, s.handleListTargets))

	mux.HandleFunc("POST /v1/users", s.authed(types.UserRoleAdmin, s.handleCreateUser))
	mux.HandleFunc("GET /v1/users", s.authed(types.UserRoleAdmin, s.handleListUsers))
	mux.HandleFunc("DELETE /v1/users/{id}", s.authed(types.UserRoleAdmin, s.handleDeleteUser))

	mux.HandleFunc("GET /v1/events", s.authed(types.UserRoleViewer, s.handleEvents))
}

// Start serves on addr until Shutdown. A closed server returns nil.
func (s *Server) Start(addr string) error {
	s.srv.Addr = addr
	log.WithComponent("api").Info().Str("addr", addr).Msg("API listening")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler returns the full middleware-wrapped handler, for embedding and
// for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// errorBody is the uniform error envelope every non-2xx response carries.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errdefs.HTTPStatus(err), errorBody{
		Code:    errdefs.Code(err),
		Message: err.Error(),
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(errdefs.ErrProtocol, "decode request body: %v", err)
	}
	return nil
}
