package system

import "context"

// Service represents a lifecycle-managed component. Background workers, the
// realtime bridge and the HTTP server implement it so the manager can start
// and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService marks a request-driven module as present without lifecycle work.
type NoopService struct {
	ServiceName string
}

func (n NoopService) Name() string { return n.ServiceName }
func (n NoopService) Start(ctx context.Context) error { return nil }
func (n NoopService) Stop(ctx context.Context) error { return nil }
