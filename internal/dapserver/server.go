// Package dapserver exposes VM debug connections to Debug Adapter Protocol
// front ends. Every accepted TCP connection is one DAP client, which attaches
// to one VM through the shared session manager.
package dapserver

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ctagard/vmdebug-mcp/internal/config"
	"github.com/ctagard/vmdebug-mcp/internal/logflags"
	"github.com/ctagard/vmdebug-mcp/internal/vm"
)

// Server accepts DAP clients.
type Server struct {
	config   *config.Config
	sessions *vm.SessionManager
	log      *logrus.Entry
}

// NewServer creates a DAP server that opens VM sessions through sm.
func NewServer(cfg *config.Config, sm *vm.SessionManager) *Server {
	return &Server{
		config:   cfg,
		sessions: sm,
		log:      logflags.DAPLogger(),
	}
}

// ListenAndServe listens on the configured dap.listen address and serves
// clients until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.DAP.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves clients accepted from ln until ctx is done or accepting
// fails. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Infof("DAP server listening on %s", ln.Addr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			s.log.Debugf("accepted DAP client %s", conn.RemoteAddr())
			g.Go(func() error {
				newClientSession(s, conn).serve(ctx)
				return nil
			})
		}
	})
	return g.Wait()
}
