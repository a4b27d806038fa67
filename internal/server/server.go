// Package server exposes the advisor over HTTP: chat, scans, syncs and task inspection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Far3/financial-advisor-ai/internal/assistant"
	"github.com/Far3/financial-advisor-ai/internal/mailsync"
	"github.com/Far3/financial-advisor-ai/internal/memory"
	"github.com/Far3/financial-advisor-ai/internal/monitor"
	"github.com/Far3/financial-advisor-ai/internal/scheduler"
	"github.com/Far3/financial-advisor-ai/internal/task"
)

// Store is the read side of persistence the handlers need.
type Store interface {
	GetOwner(id string) (*task.Owner, error)
	ListOwners() ([]task.Owner, error)
	GetTask(id string) (*task.Task, error)
	ListTasks(f memory.TaskFilter) ([]task.Task, error)
}

// Chatter answers an advisor's chat message.
type Chatter interface {
	Chat(ctx context.Context, owner *task.Owner, message string, history []task.Message) (assistant.Reply, error)
}

// Scanner runs one reply scan.
type Scanner interface {
	RunScan(ctx context.Context) (monitor.ScanResult, error)
}

// Syncer pulls one owner's mail or contacts into the store.
type Syncer interface {
	Sync(ctx context.Context, owner *task.Owner) (mailsync.SyncResult, error)
}

// Failer marks a task failed on an operator's request.
type Failer interface {
	Fail(taskID, reason string) (*task.Task, error)
}

// JobReporter exposes the background scheduler's job statuses.
type JobReporter interface {
	Snapshot() []scheduler.JobStatus
}

// Deps wires the server to the rest of the application. Nil services
// make their routes answer 503.
type Deps struct {
	Store      Store
	Assistant  Chatter
	Monitor    Scanner
	Gmail      Syncer
	HubSpot    Syncer
	Engine     Failer
	Jobs       JobReporter
	CronSecret string
	Origins    []string
}

// Server is the HTTP API.
type Server struct {
	store      Store
	assistant  Chatter
	monitor    Scanner
	gmail      Syncer
	hubspot    Syncer
	engine     Failer
	jobs       JobReporter
	cronSecret string
	origins    map[string]struct{}

	handler http.Handler
	server  *http.Server
}

// New builds a Server listening on port once started.
func New(port int, deps Deps) *Server {
	s := &Server{
		store:      deps.Store,
		assistant:  deps.Assistant,
		monitor:    deps.Monitor,
		gmail:      deps.Gmail,
		hubspot:    deps.HubSpot,
		engine:     deps.Engine,
		jobs:       deps.Jobs,
		cronSecret: deps.CronSecret,
		origins:    make(map[string]struct{}, len(deps.Origins)),
	}
	for _, o := range deps.Origins {
		s.origins[o] = struct{}{}
	}
	s.handler = s.registerRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.requireOwner(s.handleChat))
	mux.HandleFunc("POST /api/monitor", s.handleMonitor)
	mux.HandleFunc("GET /api/cron", s.requireCronSecret(s.handleCron))
	mux.HandleFunc("POST /api/cron", s.requireCronSecret(s.handleCron))
	mux.HandleFunc("POST /api/sync/gmail", s.requireOwner(s.handleSync(func() Syncer { return s.gmail })))
	mux.HandleFunc("POST /api/sync/hubspot", s.requireOwner(s.handleSync(func() Syncer { return s.hubspot })))

	mux.HandleFunc("GET /api/tasks", s.requireOwner(s.handleListTasks))
	mux.HandleFunc("GET /api/tasks/{id}", s.requireOwner(s.handleGetTask))
	mux.HandleFunc("POST /api/tasks/{id}/fail", s.requireOwner(s.handleFailTask))

	return s.corsMiddleware(mux)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start serves in a goroutine tracked by wg. Listen errors go to errChan.
func (s *Server) Start(wg *sync.WaitGroup, errChan chan<- error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("api server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.jobs != nil {
		resp.Jobs = s.jobs.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		writeUnavailable(w, "assistant")
		return
	}
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Kind: task.KindValidation})
		return
	}
	reply, err := s.assistant.Chat(r.Context(), ownerFrom(r.Context()), req.Message, req.History)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeUnavailable(w, "monitor")
		return
	}
	res, err := s.monitor.RunScan(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "processed_count": res.ProcessedCount, "owners": res.Owners})
}

// handleCron syncs every Google-connected owner's inbox, then scans.
// A failed sync for one owner is logged and does not block the scan.
func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeUnavailable(w, "monitor")
		return
	}
	var resp CronResponse
	if s.gmail != nil {
		owners, err := s.store.ListOwners()
		if err != nil {
			writeError(w, err)
			return
		}
		for i := range owners {
			o := &owners[i]
			if !o.Google.Connected() {
				continue
			}
			if _, err := s.gmail.Sync(r.Context(), o); err != nil {
				resp.SyncErrors++
				slog.Warn("cron inbox sync failed", "owner_id", o.ID, "error", err)
				continue
			}
			resp.Synced++
		}
	}
	scan, err := s.monitor.RunScan(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp.Scan = scan
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSync(get func() Syncer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		syncer := get()
		if syncer == nil {
			writeUnavailable(w, "sync")
			return
		}
		res, err := syncer.Sync(r.Context(), ownerFrom(r.Context()))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SyncResponse{Success: true, SyncResult: res})
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	f := memory.TaskFilter{OwnerID: ownerFrom(r.Context()).ID, Limit: 50}
	q := r.URL.Query()
	if st := q.Get("status"); st != "" {
		status, err := task.ParseStatus(st)
		if err != nil {
			writeError(w, err)
			return
		}
		f.Status = status
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			f.Limit = n
		}
	}
	tasks, err := s.store.ListTasks(f)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// ownedTask loads the path task and hides tasks of other owners behind 404.
func (s *Server) ownedTask(r *http.Request) (*task.Task, error) {
	t, err := s.store.GetTask(r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if t.OwnerID != ownerFrom(r.Context()).ID {
		return nil, fmt.Errorf("%w: task %s", task.ErrNotFound, r.PathValue("id"))
	}
	return t, nil
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.ownedTask(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleFailTask(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeUnavailable(w, "engine")
		return
	}
	t, err := s.ownedTask(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req FailRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Kind: task.KindValidation})
			return
		}
	}
	failed, err := s.engine.Fail(t.ID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, failed)
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch task.Kind(err) {
	case task.KindNotFound:
		return http.StatusNotFound
	case task.KindValidation:
		return http.StatusBadRequest
	case task.KindAuthExpired:
		return http.StatusUnauthorized
	case task.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case errors.Is(err, task.ErrNotConnected):
		msg = "account not connected; connect it and try again"
	case status == http.StatusUnauthorized:
		msg = "credentials expired; please reconnect your account"
	case status == http.StatusInternalServerError:
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: task.Kind(err)})
}

func writeUnavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: what + " not configured"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
