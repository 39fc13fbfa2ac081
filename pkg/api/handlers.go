package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tcmartin/sheetflow/pkg/cache"
	"github.com/tcmartin/sheetflow/pkg/logging"
	"github.com/tcmartin/sheetflow/pkg/models"
	"github.com/tcmartin/sheetflow/pkg/notify"
	"github.com/tcmartin/sheetflow/pkg/storage"
)

// maxUploadBytes bounds file upload size
const maxUploadBytes = 64 << 20

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var workflow models.Workflow
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		workflow, err = s.loader.LoadYAML(body)
	} else {
		workflow, err = s.loader.LoadJSON(body)
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	workflow.CreatedAt = time.Now().Unix()
	workflow.UpdatedAt = workflow.CreatedAt
	if err := s.workflows.SaveWorkflow(workflow); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to save workflow")
		return
	}

	s.writeJSON(w, http.StatusCreated, workflow)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.workflows.ListWorkflows()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}
	s.writeJSON(w, http.StatusOK, workflows)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, err := s.workflows.GetWorkflow(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrWorkflowNotFound) {
			s.writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load workflow")
		return
	}
	s.writeJSON(w, http.StatusOK, workflow)
}

// handleDeleteWorkflow removes a workflow and every derived artifact:
// schema records, cached entries, and propagation history
func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	if err := s.workflows.DeleteWorkflow(workflowID); err != nil {
		if errors.Is(err, storage.ErrWorkflowNotFound) {
			s.writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to delete workflow")
		return
	}

	if err := s.schemas.DeleteNodeSchemas(workflowID); err != nil {
		s.logger.Warn("failed to delete schema records", logging.F("workflow_id", workflowID), logging.Err(err))
	}
	if _, err := s.cache.DeleteWorkflow(workflowID); err != nil {
		s.logger.Warn("failed to clear schema cache", logging.F("workflow_id", workflowID), logging.Err(err))
	}
	if s.coordinator != nil {
		s.coordinator.ClearWorkflow(workflowID)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerExecution(w http.ResponseWriter, r *http.Request) {
	workflowID := mux.Vars(r)["id"]

	execution, err := s.scheduler.StartExecution(r.Context(), workflowID)
	if err != nil {
		if errors.Is(err, storage.ErrWorkflowNotFound) {
			s.writeError(w, http.StatusNotFound, "workflow not found")
			return
		}
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.publishEvent("execution_started", execution)
	s.writeJSON(w, http.StatusAccepted, execution)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	executions, err := s.executions.ListExecutions(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	s.writeJSON(w, http.StatusOK, executions)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	execution, err := s.executions.GetExecution(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrExecutionNotFound) {
			s.writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}
	s.writeJSON(w, http.StatusOK, execution)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.executions.ListSteps(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list steps")
		return
	}
	s.writeJSON(w, http.StatusOK, steps)
}

// handleAttachFile associates an uploaded file with a node and announces
// the change so caches warm before the next execution
func (s *Server) handleAttachFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workflowID, nodeID := vars["id"], vars["nodeID"]

	var req struct {
		FileID string `json:"file_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.FileID == "" {
		s.writeError(w, http.StatusBadRequest, "file_id is required")
		return
	}

	if err := s.workflows.SetNodeFile(workflowID, nodeID, req.FileID); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to associate file")
		return
	}

	if s.broker != nil {
		s.broker.Publish(notify.RowChangeEvent{
			WorkflowID: workflowID,
			NodeID:     nodeID,
			FileID:     req.FileID,
			Columns:    s.peekColumns(req.FileID),
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSelectSheet records the explicit sheet selection for a node
func (s *Server) handleSelectSheet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		SheetName string `json:"sheet_name"`
	}
	if err := decodeJSON(r, &req); err != nil || req.SheetName == "" {
		s.writeError(w, http.StatusBadRequest, "sheet_name is required")
		return
	}

	if err := s.workflows.SetNodeSheet(vars["id"], vars["nodeID"], req.SheetName); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to select sheet")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetNodeSchema serves a node's schema, preferring the cache with a
// default-sheet fallback, then the persisted store
func (s *Server) handleGetNodeSchema(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workflowID, nodeID := vars["id"], vars["nodeID"]
	sheet := r.URL.Query().Get("sheet")

	key := cache.NewKey(workflowID, nodeID, sheet)
	if entry, ok, err := s.cache.GetWithFallback(key); err == nil && ok {
		columns, dataTypes := entry.Schema.ToRecord()
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"columns":    columns,
			"data_types": dataTypes,
			"source":     string(entry.Source),
			"cached":     true,
		})
		return
	}

	record, err := s.schemas.GetNodeSchema(workflowID, nodeID, sheet)
	if err != nil {
		if errors.Is(err, storage.ErrSchemaNotFound) {
			s.writeError(w, http.StatusNotFound, "no schema for node")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load schema")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"columns":    record.Columns,
		"data_types": record.DataTypes,
		"source":     "database",
		"cached":     false,
	})
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "file path is required")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if err := s.objects.Put(path, data); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"path": path,
		"size": len(data),
	})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.objects.Get(mux.Vars(r)["path"])
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.writeError(w, http.StatusNotFound, "file not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load file")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("failed to write file response", logging.Err(err))
	}
}

// handleWebsocket streams row-change events to a connected client
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event broker not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	defer conn.Close()

	events, cancel := s.broker.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

// peekColumns reads just the header row of a CSV upload so the attach
// event can carry a column list
func (s *Server) peekColumns(path string) []string {
	data, err := s.objects.Get(path)
	if err != nil {
		return nil
	}
	reader := csv.NewReader(bytes.NewReader(data))
	header, err := reader.Read()
	if err != nil {
		return nil
	}
	return header
}

// decodeJSON decodes a small JSON request body
func decodeJSON(r *http.Request, out interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
