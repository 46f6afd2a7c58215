// Package transport carries the Orchestrator RPCs of spec.md §6 over HTTP,
// as JSON request/response bodies behind a go-chi/chi/v5 router, grounded on
// wisbric-nightowl/internal/httpserver's middleware-stack-plus-mounted-
// routes shape. Transport itself is an external collaborator per spec.md
// §1; no corpus .proto sources exist to regenerate the teacher's original
// gRPC stubs, so this replaces google.golang.org/grpc with a router every
// handler is plain Go against.
package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/certorch/pkg/log"
	"github.com/cuemby/certorch/pkg/metrics"
	"github.com/cuemby/certorch/pkg/orchestrator"
	"github.com/cuemby/certorch/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Server exposes the orchestrator's RPC table as JSON-over-HTTP.
type Server struct {
	Router *chi.Mux
	o      *orchestrator.Orchestrator
}

// NewServer mounts every RPC handler onto a fresh chi router.
func NewServer(o *orchestrator.Orchestrator) *Server {
	s := &Server{Router: chi.NewRouter(), o: o}

	s.Router.Use(requestID)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/health", metrics.HealthHandler())
	s.Router.Get("/ready", metrics.ReadyHandler())
	s.Router.Get("/live", metrics.LivenessHandler())
	s.Router.Handle("/metrics", metrics.Handler())

	s.Router.Route("/v1", func(r chi.Router) {
		r.Post("/createRegistration", s.handleCreateRegistration)
		r.Post("/getRegistration", s.handleGetRegistration)
		r.Post("/updateRegistration", s.handleUpdateRegistration)
		r.Post("/uploadCertificate", s.handleUploadCertificate)
		r.Post("/exportCertificates", s.handleExportCertificates)
		r.Post("/queueTask", s.handleQueueTask)
		r.Post("/dispenseTask", s.handleDispenseTask)
		r.Post("/peekTask", s.handlePeekTask)
		r.Post("/listAllowedPrincipals", s.handleListAllowedPrincipals)
		r.Post("/addAllowedPrincipal", s.handleAddAllowedPrincipal)
		r.Post("/rmAllowedPrincipal", s.handleRmAllowedPrincipal)
	})

	return s
}

// requestID tags every request with an X-Request-Id header for
// cross-process correlation, grounded on r3e-network-service_layer's
// middleware pattern.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// envelope is the wire shape of every response, per spec.md §6's
// "Ok | Err(kind, detail?)" contract: Error is populated on failure; on
// success Result carries the return value and is omitted for operations
// that return nothing.
type envelope struct {
	Result any        `json:"result,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope{Result: result})
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	if oe, ok := err.(*types.Error); ok {
		w.WriteHeader(statusFor(oe.Kind))
		json.NewEncoder(w).Encode(envelope{Error: &errorBody{Kind: string(oe.Kind), Detail: oe.Detail}})
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(envelope{Error: &errorBody{Kind: string(types.KindUnexpected), Detail: err.Error()}})
}

func statusFor(kind types.Kind) int {
	switch kind {
	case types.KindUnauthorized:
		return http.StatusForbidden
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindDuplicate:
		return http.StatusConflict
	case types.KindNameError:
		return http.StatusBadRequest
	case types.KindNoTasksAvailable:
		return http.StatusNoContent
	default:
		return http.StatusInternalServerError
	}
}

func callerFrom(r *http.Request) string {
	return r.Header.Get("X-Principal")
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func withTimer(method string) func() {
	t := metrics.NewTimer()
	return func() { t.ObserveDurationVec(metrics.RPCDuration, method) }
}

// -- Request/response bodies ---------------------------------------------------

type createRegistrationRequest struct {
	Name     string `json:"name"`
	Canister string `json:"canister"`
}

func (s *Server) handleCreateRegistration(w http.ResponseWriter, r *http.Request) {
	defer withTimer("createRegistration")()
	var req createRegistrationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, types.ErrUnexpected(err.Error()))
		return
	}
	id, err := s.o.CreateRegistration(callerFrom(r), req.Name, req.Canister)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]string{"id": id})
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleGetRegistration(w http.ResponseWriter, r *http.Request) {
	defer withTimer("getRegistration")()
	var req idRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, types.ErrUnexpected(err.Error()))
		return
	}
	reg, err := s.o.GetRegistration(callerFrom(r), req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, reg)
}

type updateRegistrationRequest struct {
	ID     string      `json:"id"`
	State  types.State `json:"state"`
	Reason string      `json:"reason,omitempty"`
}

func (s *Server) handleUpdateRegistration(w http.ResponseWriter, r *http.Request) {
	defer withTimer("updateRegistration")()
	var req updateRegistrationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, types.ErrUnexpected(err.Error()))
		return
	}
	if err := s.o.UpdateRegistration(callerFrom(r), req.ID, req.State, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, nil)
}

type uploadCertificateRequest struct {
	ID   string               `json:"id"`
	Pair types.EncryptedPair `json:"pair"`
}

func (s *Server) handleUploadCertificate(w http.ResponseWriter, r *http.Request) {
	defer withTimer("uploadCertificate")()
	var req uploadCertificateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, types.ErrUnexpected(err.Error()))
		return
	}
	if err := s.o.UploadCertificate(callerFrom(r), req.ID, req.Pair); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, nil)
}

func (s *Server) handleExportCertificates(w http.ResponseWriter, r *http.Request) {
	defer withTimer("exportCertificates")()
	out, err := s.o.ExportCertificates(callerFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, out)
}

type queueTaskRequest struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

func (s *Server) handleQueueTask(w http.ResponseWriter, r *http.Request) {
	defer withTimer("queueTask")()
	var req queueTaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, types.ErrUnexpected(err.Error()))
		return
	}
	if err := s.o.QueueTask(callerFrom(r), req.ID, req.At); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, nil)
}

func (s *Server) handleDispenseTask(w http.ResponseWriter, r *http.Request) {
	defer withTimer("dispenseTask")()
	id, err := s.o.DispenseTask(callerFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]string{"id": id})
}

func (s *Server) handlePeekTask(w http.ResponseWriter, r *http.Request) {
	defer withTimer("peekTask")()
	id, err := s.o.PeekTask(callerFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, map[string]string{"id": id})
}

func (s *Server) handleListAllowedPrincipals(w http.ResponseWriter, r *http.Request) {
	defer withTimer("listAllowedPrincipals")()
	principals, err := s.o.ListAllowedPrincipals(callerFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, principals)
}

type principalRequest struct {
	Principal string `json:"principal"`
}

func (s *Server) handleAddAllowedPrincipal(w http.ResponseWriter, r *http.Request) {
	defer withTimer("addAllowedPrincipal")()
	var req principalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, types.ErrUnexpected(err.Error()))
		return
	}
	if err := s.o.AddAllowedPrincipal(callerFrom(r), req.Principal); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, nil)
}

func (s *Server) handleRmAllowedPrincipal(w http.ResponseWriter, r *http.Request) {
	defer withTimer("rmAllowedPrincipal")()
	var req principalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, types.ErrUnexpected(err.Error()))
		return
	}
	if err := s.o.RmAllowedPrincipal(callerFrom(r), req.Principal); err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, nil)
}

// Start listens and serves on addr until the process exits.
func (s *Server) Start(addr string) error {
	log.WithComponent("transport").Info().Str("addr", addr).Msg("http api listening")
	return http.ListenAndServe(addr, s.Router)
}
