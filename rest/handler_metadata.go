package rest

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.registry.GetSnapshot()
	if err != nil {
		respondWithApiError(w, err)
		return
	}
	respondOK(w, snapshot.Workflows)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	wf, err := s.registry.GetActiveWorkflow(name)
	if err != nil {
		respondWithApiError(w, err)
		return
	}
	respondOK(w, wf)
}

func (s *Server) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.registry.GetSnapshot()
	if err != nil {
		respondWithApiError(w, err)
		return
	}
	respondOK(w, snapshot)
}

func (s *Server) HandleProviderOptions(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	options, err := s.providers.GetOptions(name)
	if err != nil {
		respondWithApiError(w, err)
		return
	}
	respondOK(w, map[string]any{"provider": name, "options": options})
}

// HandleRescan triggers a workspace sync pass; concurrent triggers coalesce.
func (s *Server) HandleRescan(w http.ResponseWriter, r *http.Request) {
	s.synchronizer.Trigger()
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "scan triggered"})
}
