package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	platformcmd "github.com/Natural-Highs/live-sub000/internal/platform/cmd"
	platformgrpc "github.com/Natural-Highs/live-sub000/internal/platform/grpc"
	"github.com/Natural-Highs/live-sub000/internal/platform/timeouts"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/api/httpapi"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/challenge"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/guest"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/notify"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/passkey"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/profile"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/session"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
	gogrpc "google.golang.org/grpc"
)

// Server hosts the identity HTTP API, the gRPC health endpoint and the
// sweeper.
type Server struct {
	httpListener net.Listener
	httpServer   *http.Server
	grpcListener net.Listener
	health       *platformgrpc.HealthServer
	sweeper      *sweeper
	closeStore   func() error
}

// New opens the store, builds every service and binds both listeners.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	docs, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Server, error) {
		if closeErr := closeStore(); closeErr != nil {
			glog.Warningf("close store: %v", closeErr)
		}
		return nil, err
	}

	sessions, err := session.NewManager(cfg.Session, time.Now)
	if err != nil {
		return fail(fmt.Errorf("session manager: %w", err))
	}
	challenges := challenge.NewStore(docs, cfg.Passkey.ChallengeTTL, time.Now)
	passkeys, err := passkey.NewService(docs, challenges, cfg.Passkey, time.Now)
	if err != nil {
		return fail(fmt.Errorf("passkey service: %w", err))
	}
	guests := guest.NewEngine(docs,
		guest.WithNotifier(notify.New(cfg.Mail)),
		guest.WithPendingTTL(cfg.ConversionTTL),
	)
	profiles := profile.NewStore(docs, time.Now)

	api := httpapi.New(httpapi.Deps{
		Sessions: sessions,
		Passkeys: passkeys,
		Guests:   guests,
		Profiles: profiles,
		Accounts: docs,
	})

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fail(fmt.Errorf("listen on http addr %s: %w", cfg.HTTPAddr, err))
	}
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		_ = httpListener.Close()
		return fail(fmt.Errorf("listen on port %d: %w", cfg.GRPCPort, err))
	}

	return &Server{
		httpListener: httpListener,
		httpServer: &http.Server{
			Handler:           api.Handler(),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		grpcListener: grpcListener,
		health:       platformgrpc.NewHealthServer(platformcmd.ServiceIdentity),
		sweeper: &sweeper{
			challenges: challenges,
			pending:    guests,
			interval:   cfg.SweepInterval,
			now:        time.Now,
		},
		closeStore: closeStore,
	}, nil
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC health address.
func (s *Server) GRPCAddr() string {
	if s == nil || s.grpcListener == nil {
		return ""
	}
	return s.grpcListener.Addr().String()
}

// Run builds a server from cfg and serves until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve blocks until ctx ends or a listener fails, then drains both servers
// and closes the store.
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		if err := s.closeStore(); err != nil {
			glog.Warningf("close store: %v", err)
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		glog.Infof("identity HTTP server listening at %v", s.httpListener.Addr())
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		glog.Infof("identity health server listening at %v", s.grpcListener.Addr())
		if err := s.health.Server.Serve(s.grpcListener); err != nil && !errors.Is(err, gogrpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return s.sweeper.run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		s.health.Stop()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			glog.Warningf("shutdown HTTP: %v", err)
		}
		return nil
	})
	return group.Wait()
}
