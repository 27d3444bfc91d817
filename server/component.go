package server

import (
	"context"

	"github.com/kbukum/taskflow/component"
)

var _ component.Component = (*Component)(nil)

// Component runs a Server under a component.Registry.
type Component struct {
	server *Server
}

func NewComponent(s *Server) *Component {
	return &Component{server: s}
}

func (c *Component) Name() string { return "http-server" }

func (c *Component) Start(ctx context.Context) error { return c.server.Start(ctx) }

func (c *Component) Stop(ctx context.Context) error { return c.server.Stop(ctx) }

func (c *Component) Health(_ context.Context) component.Health {
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}
