// Package server exposes a transfer.Manager over HTTP.
//
// Plain REST endpoints are served under /transfers, a JSON-RPC 2.0 API under /rpc
// and runtime metrics under /debug.
package server

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"net/rpc"
	"strconv"
	"time"

	"github.com/cenkalti/rainhub/internal/logger"
	"github.com/cenkalti/rainhub/transfer"
	"github.com/juju/ratelimit"
	"github.com/julienschmidt/httprouter"
	"github.com/powerman/rpc-codec/jsonrpc2"
	"github.com/rcrowley/go-metrics/exp"
)

// Server serves the API of a transfer.Manager.
type Server struct {
	manager    *transfer.Manager
	rpcServer  *rpc.Server
	httpServer http.Server
	listener   net.Listener
	bucket     *ratelimit.Bucket
	log        logger.Logger
}

// New returns a Server for m. It does not listen until Start is called.
func New(m *transfer.Manager) *Server {
	s := &Server{
		manager:   m,
		rpcServer: rpc.NewServer(),
		bucket:    newBucket(m.Config().ServeRate),
		log:       logger.New("server"),
	}
	_ = s.rpcServer.RegisterName("Transfers", &rpcHandler{manager: m})

	router := httprouter.New()
	router.POST("/transfers", s.handleAdd)
	router.GET("/transfers", s.handleList)
	router.GET("/transfers/:ref", s.handleStatus)
	router.GET("/transfers/:ref/status", s.handleStatusLine)
	router.POST("/transfers/:ref/stop", s.handleStop)
	router.POST("/transfers/:ref/pause", s.handlePause)
	router.POST("/transfers/:ref/resume", s.handleResume)
	router.GET("/transfers/:ref/files", s.handleFiles)
	router.GET("/transfers/:ref/files/:file", s.handleFile)
	router.GET("/transfers/:ref/files/:file/stream", s.handleFileStream)
	router.GET("/transfers/:ref/archive", s.handleArchive)
	router.PUT("/transfers/:ref/limits/download/:rate", s.handleDownloadLimit)
	router.PUT("/transfers/:ref/limits/upload/:rate", s.handleUploadLimit)
	router.Handler(http.MethodPost, "/rpc", jsonrpc2.HTTPHandler(s.rpcServer))
	router.Handler(http.MethodGet, "/debug/vars", expvar.Handler())
	router.Handler(http.MethodGet, "/debug/metrics", exp.ExpHandler(m.Metrics()))
	router.PanicHandler = s.handlePanic

	s.httpServer.Handler = router
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listening on host:port and serve requests in a new goroutine.
// Port 0 picks a free port; see Addr.
func (s *Server) Start(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.log.Infoln("API server is listening on", listener.Addr().String())

	go func() {
		err := s.httpServer.Serve(listener)
		if err == http.ErrServerClosed {
			return
		}
		s.log.Fatal(err)
	}()

	return nil
}

// Addr returns the listen address. Valid after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop waits up to timeout for in-flight requests and closes the listener.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request, v interface{}) {
	s.log.Errorf("panic while serving %s %s: %v", r.Method, r.URL.Path, v)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
