package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"skillatlas/internal/app"
	"skillatlas/internal/store"
	"skillatlas/internal/supervisor"
)

// Backend is the read side of the installer plus background sweep control.
type Backend interface {
	Summary(ctx context.Context, view string, limit int) (app.Summary, error)
	JobStatus() supervisor.JobStatus
	StartJob(req app.InstallRequest) (supervisor.StartResult, error)
	Report() (store.Report, error)
	LogTail(n int) (string, error)
	PathsInfo() app.PathsInfo
}

type Options struct {
	Backend Backend
	Host    string
	Port    int
	// UIDir, when set, is served at "/".
	UIDir  string
	Logger *slog.Logger
}

type Server struct {
	log     *slog.Logger
	backend Backend
	addr    string
	uiDir   string

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

type errorResp struct {
	Error string `json:"error"`
}

const maxBodyBytes = 1 << 20

func New(opts Options) (*Server, error) {
	if opts.Backend == nil {
		return nil, errors.New("missing Backend")
	}
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("SRV_CONFIG: invalid port %d", opts.Port)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		log:     logger,
		backend: opts.Backend,
		addr:    net.JoinHostPort(host, strconv.Itoa(opts.Port)),
		uiDir:   strings.TrimSpace(opts.UIDir),
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/job", s.handleJob)
	mux.HandleFunc("/api/report", s.handleReport)
	mux.HandleFunc("/api/log", s.handleLog)
	mux.HandleFunc("/api/paths", s.handlePaths)
	mux.HandleFunc("/api/install", s.handleInstall)
	if s.uiDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.uiDir)))
	}
	return recoverMiddleware(s.log, mux)
}

// Start listens and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("SRV_LISTEN: %s: %w", s.addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.ln = ln
	s.srv = srv

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server stopped", "error", err)
		}
	}()
	s.log.Info("status server listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(ctx)
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.srv = nil
	s.ln = nil
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSON(w, http.StatusMethodNotAllowed, errorResp{Error: "method not allowed"})
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	view := r.URL.Query().Get("view")
	if view == "" {
		view = "all-time"
	}
	sum, err := s.backend.Summary(r.Context(), view, intParam(r, "limit", 80))
	if err != nil {
		s.log.Warn("summary failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.backend.JobStatus())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	rep, err := s.backend.Report()
	if err != nil {
		if !errors.Is(err, store.ErrNotAvailable) {
			s.log.Warn("report unreadable", "err", err)
		}
		writeJSON(w, http.StatusNotFound, errorResp{Error: "report not found"})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	text, err := s.backend.LogTail(intParam(r, "lines", 120))
	if err != nil {
		s.log.Warn("log tail failed", "err", err)
		text = ""
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, text)
}

func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.backend.PathsInfo())
}

// handleInstall starts a background sweep. Empty and unparsable bodies fall
// back to the default request; a JSON body whose fields cannot be coerced is
// rejected rather than replaced.
func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResp{Error: "method not allowed"})
		return
	}
	req := app.DefaultInstallRequest()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil && len(strings.TrimSpace(string(body))) > 0 {
		if !json.Valid(body) {
			s.log.Debug("install body ignored", "bytes", len(body))
		} else if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid install request: " + err.Error()})
			return
		}
	}
	res, err := s.backend.StartJob(req)
	if err != nil {
		s.log.Error("start sweep failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
