package server

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/kbukum/regd/component"
)

const componentName = "http-server"

var (
	_ component.Component   = (*Server)(nil)
	_ component.Describable = (*Server)(nil)
)

func (s *Server) Name() string { return componentName }

// trackConn counts open client connections for Health.
func (s *Server) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.conns.Add(1)
	case http.StateClosed, http.StateHijacked:
		s.conns.Add(-1)
	}
}

// Health is unhealthy until the listener is bound.
func (s *Server) Health(context.Context) component.Health {
	if !s.running() {
		return component.Unhealthy(componentName, "HTTP server not listening")
	}
	h := component.Healthy(componentName)
	h.Message = fmt.Sprintf("%d open connections", s.conns.Load())
	return h
}

// Describe summarizes the listener for the startup banner.
func (s *Server) Describe() component.Description {
	api := 0
	for _, r := range s.Routes() {
		if !r.System {
			api++
		}
	}
	return component.Description{
		Name:    "HTTP Server",
		Type:    "server",
		Details: fmt.Sprintf("%s h2c routes=%d", s.Addr(), api),
		Port:    s.config.Port,
	}
}
