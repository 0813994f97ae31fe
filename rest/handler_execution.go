package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	api "github.com/flowplane/flowplane/api/v1"
	"github.com/flowplane/flowplane/dispatcher"
	"github.com/flowplane/flowplane/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatcher.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	handle, err := s.dispatcher.Dispatch(req)
	if err != nil {
		var timeout api.TimeoutError
		if errors.As(err, &timeout) && handle != nil {
			// the execution keeps running server-side; hand back the id so
			// the caller can poll or cancel
			respondWithJSON(w, http.StatusAccepted, handle)
			return
		}
		logger.Error("error dispatching workflow", zap.String("workflow", req.WorkflowName), zap.Error(err))
		respondWithApiError(w, err)
		return
	}
	respondOK(w, handle)
}

func (s *Server) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	exec, err := s.dispatcher.GetExecution(id)
	if err != nil {
		respondWithApiError(w, err)
		return
	}
	respondOK(w, exec)
}

func (s *Server) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.dispatcher.Cancel(id); err != nil {
		respondWithApiError(w, err)
		return
	}
	respondOKWithoutBody(w)
}

func (s *Server) HandleGetLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	after := int64(-1)
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
		after = parsed
	}
	limit := 500
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}
	entries, err := s.executions.GetLogEntries(id, after, limit)
	if err != nil {
		respondWithApiError(w, err)
		return
	}
	respondOK(w, map[string]any{"executionId": id, "entries": entries})
}

// HandleStreamLogs follows an execution's log stream over chunked json lines
// until the client disconnects or the execution goes quiet for good.
func (s *Server) HandleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	fromSeq := int64(0)
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
		fromSeq = parsed + 1
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := s.forwarder.Subscribe(id, fromSeq)
	if err != nil {
		respondWithApiError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case entry, ok := <-stream.Entries():
			if !ok {
				return
			}
			if err := enc.Encode(entry); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
