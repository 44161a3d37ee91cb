package library

import (
	"log/slog"
	"sync"

	"go2tv.app/go2tv/v2/httphandlers"
	"go2tv.app/go2tv/v2/soapcalls"
	"go2tv.app/go2tv/v2/utils"
)

type streamServer interface {
	AddHandler(path string, payload *soapcalls.TVPayload, transcode *utils.TranscodeOptions, media any)
	StartServing(serverStarted chan<- error)
	StopServer()
}

type streamServerFactory func(addr string) streamServer

func go2tvServerFactory(addr string) streamServer {
	return httphandlers.NewServer(addr)
}

// Server exposes the catalog's files over HTTP on an address the cast
// device can reach. The listen address depends on which local interface
// routes to the device, so the server starts only after a connection
// names one.
type Server struct {
	catalog *Catalog
	logger  *slog.Logger

	newServer  streamServerFactory
	listenAddr func(deviceAddress string) (string, error)

	mu      sync.Mutex
	server  streamServer
	address string
}

func NewServer(catalog *Catalog, logger *slog.Logger) *Server {
	return &Server{
		catalog:    catalog,
		logger:     logger,
		newServer:  go2tvServerFactory,
		listenAddr: utils.URLtoListenIPandPort,
	}
}

// Start brings up the HTTP server on an interface that routes to
// deviceAddress and publishes streaming URLs into the catalog. A server
// already listening on the right address is left alone.
func (s *Server) Start(deviceAddress string) error {
	addr, err := s.listenAddr(deviceAddress)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		if s.address == addr {
			return nil
		}
		s.server.StopServer()
		s.server = nil
	}

	server := s.newServer(addr)
	for route, path := range s.catalog.routes() {
		server.AddHandler(route, nil, nil, path)
	}

	started := make(chan error, 1)
	go server.StartServing(started)
	if err := <-started; err != nil {
		return err
	}

	s.server = server
	s.address = addr
	s.catalog.setBaseURL("http://" + addr)

	if s.logger != nil {
		s.logger.Info("media_server_started", slog.String("address", addr), slog.Int("tracks", s.catalog.Len()))
	}
	return nil
}

// Stop shuts the HTTP server down. Streaming URLs in the catalog go
// stale but are rewritten on the next Start.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return
	}
	s.server.StopServer()
	s.server = nil
	s.address = ""
}
