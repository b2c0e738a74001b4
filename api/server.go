package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/moyoez/readersync/api/controllers"
	"github.com/moyoez/readersync/tool"
)

const (
	PeerPrefix    = tool.APIPrefix
	ControlPrefix = "/api/self/v1"
)

// Deps are the node services the HTTP surface is backed by.
type Deps struct {
	Peers        controllers.PeerRegistry
	Responder    controllers.SessionResponder
	Control      controllers.NodeControl
	Capabilities []string
	PinRequired  bool
	// Certificate is served in HTTPS mode. Nil generates one on Start.
	Certificate *tool.NodeCertificate

	// PeerRate limits requests per second on the peer routes. Zero disables it.
	PeerRate  rate.Limit
	PeerBurst int
	// RemoteControl exposes the control routes to non-loopback clients.
	RemoteControl bool
}

// Server is the HTTP API server of a node: peer routes for discovery callbacks
// and sync sessions, and control routes for the local user.
type Server struct {
	port     int
	protocol string
	alias    string
	cert     *tool.NodeCertificate
	engine   *gin.Engine
	server   *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
}

func NewServer(port int, protocol, alias string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		port:     port,
		protocol: protocol,
		alias:    alias,
		cert:     deps.Certificate,
		engine:   gin.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes(deps)
	return s
}

func (s *Server) routes(deps Deps) {
	register := controllers.NewRegisterController(deps.Peers, deps.Capabilities, deps.PinRequired)
	sessions := controllers.NewSessionController(deps.Responder)

	peer := s.engine.Group(PeerPrefix)
	if deps.PeerRate > 0 {
		peer.Use(rateLimit(rate.NewLimiter(deps.PeerRate, max(deps.PeerBurst, 1))))
	}
	peer.POST("/register", register.HandleRegister)
	peer.GET("/info", register.HandleInfo)
	peer.GET("/session", sessions.HandleSession)

	if deps.Control == nil {
		return
	}
	control := controllers.NewControlController(deps.Control)
	self := s.engine.Group(ControlPrefix)
	if !deps.RemoteControl {
		self.Use(localOnly())
	}
	self.GET("/devices", control.HandleDevices)
	self.GET("/status", control.HandleStatus)
	self.POST("/discovery/start", control.HandleStartDiscovery)
	self.POST("/discovery/stop", control.HandleStopDiscovery)
	self.POST("/sync/:deviceId", control.HandleSync)
	self.POST("/cancel", control.HandleCancel)
	self.GET("/conflicts", control.HandleConflicts)
	self.POST("/conflicts/resolve", control.HandleResolve)
	self.GET("/history", control.HandleHistory)
	self.GET("/pair/qr", control.HandlePairQR)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	tool.DefaultLogger.Infof("Starting API server on %s://0.0.0.0:%d", s.protocol, s.port)

	var err error
	if s.protocol == "https" {
		cert := s.cert
		if cert == nil {
			generated, tlsErr := tool.NewNodeCertificate(s.alias)
			if tlsErr != nil {
				return fmt.Errorf("failed to generate TLS certificate: %w", tlsErr)
			}
			cert = generated
		}
		srv.TLSConfig = cert.Config
		tool.DefaultLogger.Infof("Serving HTTPS with certificate %s", cert.Fingerprint)
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down and cancels running peer sessions.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
