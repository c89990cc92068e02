package harness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

const (
	// TestsPrefix is the URL prefix under which target files are served.
	TestsPrefix = "/__tests/"

	// DefaultAddr binds the server to a random loopback port.
	DefaultAddr = "127.0.0.1:0"

	contentTypeJS   = "application/javascript; charset=utf-8"
	contentTypeHTML = "text/html; charset=utf-8"
)

// Facades are the assertion and mocking libraries exposed to targets, served
// from the assets directory.
var Facades = []string{"chai.js", "sinon.js"}

// Config holds the harness server configuration.
type Config struct {
	Root      string   // directory target files are served from
	Targets   []string // target files; must live under Root
	AssetsDir string   // directory holding the facade files, optional
	Log       log.Logger
}

// Server serves the harness page, the in-page runner, the facades and the
// target files over HTTP.
type Server struct {
	cfg      Config
	page     []byte
	handler  http.Handler
	srv      *http.Server
	listener net.Listener
	url      string
}

// NewServer renders the harness page for cfg.Targets and builds the router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve harness root '%s': %w", cfg.Root, err)
	}
	cfg.Root = root

	urls := make([]string, 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		u, err := TargetURL(cfg.Root, target)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}

	page, err := Render(urls)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, page: page}
	s.handler = s.routes()
	return s, nil
}

// TargetURL maps a target file to the URL it is served under.
func TargetURL(root, target string) (string, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve target '%s': %w", target, err)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("target '%s' is outside of harness root '%s'", target, root)
	}
	return TestsPrefix + filepath.ToSlash(rel), nil
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.SkipClean(true)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/mec.js", s.handleRunner).Methods(http.MethodGet)
	r.HandleFunc("/favicon.ico", handleEmpty)
	for _, facade := range Facades {
		r.HandleFunc("/"+facade, s.handleFacade(facade)).Methods(http.MethodGet)
	}
	r.PathPrefix(TestsPrefix).HandlerFunc(s.handleTarget).Methods(http.MethodGet)
	// Anything the harness does not serve gets an empty response.
	r.NotFoundHandler = http.HandlerFunc(handleEmpty)
	r.MethodNotAllowedHandler = http.HandlerFunc(handleEmpty)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	return c.Handler(r)
}

// Handler returns the HTTP handler of the harness.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the server. Use DefaultAddr for a random loopback port.
func (s *Server) Listen(addr string) (string, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = l
	s.srv = &http.Server{Handler: s.handler}
	s.url = "http://" + l.Addr().String()
	s.cfg.Log.Info("Harness server listening", "url", s.url)
	return s.url, nil
}

// URL returns the base URL once the server is listening.
func (s *Server) URL() string {
	return s.url
}

// Serve blocks until the server is shut down.
func (s *Server) Serve() error {
	if s.srv == nil {
		return errors.New("harness server is not listening")
	}
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeHTML)
	w.Write(s.page) //nolint:errcheck
}

func (s *Server) handleRunner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeJS)
	w.Write(RunnerScript()) //nolint:errcheck
}

func (s *Server) handleFacade(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AssetsDir == "" {
			s.cfg.Log.Warn("Facade requested but no assets directory configured", "facade", name)
			handleEmpty(w, r)
			return
		}
		s.serveFile(w, r, filepath.Join(s.cfg.AssetsDir, name))
	}
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, TestsPrefix)
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) || path.Clean(rel) != rel {
		s.cfg.Log.Warn("Rejected target request outside of harness root", "path", r.URL.Path)
		handleEmpty(w, r)
		return
	}
	s.serveFile(w, r, filepath.Join(s.cfg.Root, filepath.FromSlash(rel)))
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, file string) {
	data, err := os.ReadFile(file)
	if err != nil {
		s.cfg.Log.Warn("Failed to read harness file", "file", file, "err", err)
		handleEmpty(w, r)
		return
	}
	w.Header().Set("Content-Type", contentTypeJS)
	w.Write(data) //nolint:errcheck
}

func handleEmpty(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
