// Package api exposes the HTTP surface: workflow management, execution
// triggering, file upload, and live event streams.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/r3labs/sse/v2"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/loader"
	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/notify"
	"github.com/tcmartin/sheetflow/pkg/propagation"
	"github.com/tcmartin/sheetflow/pkg/runtime"
	"github.com/tcmartin/sheetflow/pkg/storage"
)

// executionStream is the SSE stream carrying execution lifecycle events
const executionStream = "executions"

// ServerDeps are the collaborators the HTTP server needs
type ServerDeps struct {
	Workflows   storage.WorkflowStore
	Executions  storage.ExecutionStore
	Schemas     storage.SchemaStore
	Objects     storage.ObjectStore
	Cache       cache.Store
	Coordinator *propagation.Coordinator
	Scheduler   *runtime.Scheduler
	Loader      *loader.Loader
	Broker      *notify.Broker
	Logger      logging.Logger
}

// Server is the HTTP API server
type Server struct {
	router *mux.Router
	events *sse.Server

	workflows   storage.WorkflowStore
	executions  storage.ExecutionStore
	schemas     storage.SchemaStore
	objects     storage.ObjectStore
	cache       cache.Store
	coordinator *propagation.Coordinator
	scheduler   *runtime.Scheduler
	loader      *loader.Loader
	broker      *notify.Broker
	logger      logging.Logger

	upgrader websocket.Upgrader
}

// NewServer creates the HTTP API server and registers its routes
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	events := sse.New()
	events.AutoReplay = false
	events.CreateStream(executionStream)

	s := &Server{
		router:      mux.NewRouter(),
		events:      events,
		workflows:   deps.Workflows,
		executions:  deps.Executions,
		schemas:     deps.Schemas,
		objects:     deps.Objects,
		cache:       deps.Cache,
		coordinator: deps.Coordinator,
		scheduler:   deps.Scheduler,
		loader:      deps.Loader,
		broker:      deps.Broker,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// routes registers all API routes
func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/workflows", s.handleCreateWorkflow).Methods("POST")
	api.HandleFunc("/workflows", s.handleListWorkflows).Methods("GET")
	api.HandleFunc("/workflows/{id}", s.handleGetWorkflow).Methods("GET")
	api.HandleFunc("/workflows/{id}", s.handleDeleteWorkflow).Methods("DELETE")

	api.HandleFunc("/workflows/{id}/executions", s.handleTriggerExecution).Methods("POST")
	api.HandleFunc("/workflows/{id}/executions", s.handleListExecutions).Methods("GET")
	api.HandleFunc("/executions/{id}", s.handleGetExecution).Methods("GET")
	api.HandleFunc("/executions/{id}/steps", s.handleListSteps).Methods("GET")

	api.HandleFunc("/workflows/{id}/nodes/{nodeID}/file", s.handleAttachFile).Methods("PUT")
	api.HandleFunc("/workflows/{id}/nodes/{nodeID}/sheet", s.handleSelectSheet).Methods("PUT")
	api.HandleFunc("/workflows/{id}/nodes/{nodeID}/schema", s.handleGetNodeSchema).Methods("GET")

	api.HandleFunc("/files/{path:.*}", s.handleUploadFile).Methods("PUT")
	api.HandleFunc("/files/{path:.*}", s.handleDownloadFile).Methods("GET")

	api.HandleFunc("/events", s.events.ServeHTTP).Methods("GET")
	api.HandleFunc("/ws", s.handleWebsocket).Methods("GET")
}

// StreamBrokerEvents forwards row-change events onto the SSE stream until
// the context is cancelled. Run it in its own goroutine.
func (s *Server) StreamBrokerEvents(ctx context.Context) {
	if s.broker == nil {
		return
	}
	events, cancel := s.broker.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.publishEvent("row_change", event)
		}
	}
}

// publishEvent pushes a typed JSON event onto the SSE stream
func (s *Server) publishEvent(eventType string, payload interface{}) {
	data, err := json.Marshal(map[string]interface{}{
		"type":      eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"payload":   payload,
	})
	if err != nil {
		s.logger.Warn("failed to marshal event", logging.Err(err))
		return
	}
	s.events.Publish(executionStream, &sse.Event{Data: data})
}

// writeJSON writes a JSON response with the given status
func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to write response", logging.Err(err))
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
