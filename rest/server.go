package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	api "github.com/flowplane/flowplane/api/v1"
	"github.com/flowplane/flowplane/dataprovider"
	"github.com/flowplane/flowplane/dispatcher"
	"github.com/flowplane/flowplane/logger"
	"github.com/flowplane/flowplane/logstream"
	"github.com/flowplane/flowplane/persistence"
	"github.com/flowplane/flowplane/registry"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port         int
	dispatcher   *dispatcher.Dispatcher
	registry     *registry.Service
	providers    *dataprovider.Service
	executions   persistence.ExecutionStorage
	forwarder    *logstream.Forwarder
	synchronizer *registry.Synchronizer
}

func NewServer(httpPort int, d *dispatcher.Dispatcher, reg *registry.Service,
	providers *dataprovider.Service, executions persistence.ExecutionStorage,
	forwarder *logstream.Forwarder, sync *registry.Synchronizer) (*Server, error) {

	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		Port:         httpPort,
		dispatcher:   d,
		registry:     reg,
		providers:    providers,
		executions:   executions,
		forwarder:    forwarder,
		synchronizer: sync,
	}

	router := mux.NewRouter()
	router.HandleFunc("/execution", s.HandleDispatch).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}", s.HandleGetExecution).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/cancel", s.HandleCancelExecution).Methods(http.MethodPost)
	router.HandleFunc("/execution/{id}/logs", s.HandleGetLogs).Methods(http.MethodGet)
	router.HandleFunc("/execution/{id}/logs/stream", s.HandleStreamLogs).Methods(http.MethodGet)

	router.HandleFunc("/metadata/workflow", s.HandleListWorkflows).Methods(http.MethodGet)
	router.HandleFunc("/metadata/workflow/{name}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/metadata/snapshot", s.HandleGetSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/metadata/provider/{name}/options", s.HandleProviderOptions).Methods(http.MethodGet)
	router.HandleFunc("/metadata/rescan", s.HandleRescan).Methods(http.MethodPost)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload interface{}) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondOKWithoutBody(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithApiError maps the stable error kinds onto http status codes.
func respondWithApiError(w http.ResponseWriter, err error) {
	kind := api.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case api.KIND_VALIDATION, api.KIND_CONFIGURATION:
		code = http.StatusBadRequest
	case api.KIND_NOT_FOUND:
		code = http.StatusNotFound
	case api.KIND_INTEGRATION:
		code = http.StatusBadGateway
	}
	respondWithJSON(w, code, map[string]string{"error": err.Error(), "kind": kind})
}
