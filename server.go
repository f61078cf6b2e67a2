package smtpd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"tuatara.dev/go/smtpd/internal/maillog"
)

// Server accepts connections on the endpoints described by an Options
// value and drives each one through a Session. A Server is built with
// NewServer and is safe to Start at most once; call Stop to shut it
// down.
type Server struct {
	opt *Options

	mu        sync.Mutex
	started   bool
	listeners []net.Listener
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewServer returns a Server configured by opt.
func NewServer(opt *Options) *Server {
	return &Server{opt: opt}
}

// Start binds every configured endpoint and begins accepting
// connections in background goroutines. It returns once every endpoint
// is listening, or the first error encountered binding one.
// Cancelling ctx (or calling Stop) ends all accept loops and in-flight
// sessions.
func (srv *Server) Start(ctx context.Context) error {
	srv.mu.Lock()
	if srv.started {
		srv.mu.Unlock()
		return fmt.Errorf("smtpd: server already started")
	}
	srv.started = true
	ctx, cancel := context.WithCancel(ctx)
	srv.cancel = cancel
	srv.mu.Unlock()

	for _, e := range srv.opt.endpoints {
		l, err := srv.opt.endpointListenerFactory.Listen(e.addr())
		if err != nil {
			cancel()
			return fmt.Errorf("smtpd: listening on %s: %w", e.addr(), err)
		}

		if e.IsSecure {
			if e.ServerCertificate == nil {
				l.Close()
				cancel()
				return fmt.Errorf("smtpd: endpoint %s is secure but has no certificate", e.addr())
			}
			l = tls.NewListener(l, &tls.Config{
				Certificates: []tls.Certificate{*e.ServerCertificate},
			})
		}

		srv.mu.Lock()
		srv.listeners = append(srv.listeners, l)
		srv.mu.Unlock()

		maillog.Listening(l.Addr().String())
		if srv.opt.onEndpointStarted != nil {
			srv.opt.onEndpointStarted(e)
		}

		srv.wg.Add(1)
		go srv.acceptLoop(ctx, l, e)
		go func(l net.Listener) {
			<-ctx.Done()
			l.Close()
		}(l)
	}

	return nil
}

// acceptLoop accepts connections on l until ctx is cancelled or Accept
// returns an error, spawning one session goroutine per connection.
func (srv *Server) acceptLoop(ctx context.Context, l net.Listener, e EndpointDefinition) {
	defer srv.wg.Done()
	defer l.Close()
	defer func() {
		if srv.opt.onEndpointStopped != nil {
			srv.opt.onEndpointStopped(e)
		}
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				// Stop closed the listener to unblock Accept; not an error.
				return
			}
			srv.opt.logger.Errorf("smtpd: accept on %s: %v", e.addr(), err)
			return
		}

		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			s := newSession(srv.opt, e, conn)
			s.Handle(ctx)
		}()
	}
}

// Stop cancels every accept loop and in-flight session and waits for
// them to finish, up to ShutdownGracePeriod; it returns once that
// grace period elapses even if sessions are still draining.
func (srv *Server) Stop() {
	srv.mu.Lock()
	if srv.cancel != nil {
		srv.cancel()
	}
	listeners := srv.listeners
	srv.mu.Unlock()

	for _, l := range listeners {
		l.Close()
	}

	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()

	grace := srv.opt.shutdownGracePeriod
	if grace <= 0 {
		grace = 30 * time.Second
	}

	select {
	case <-done:
	case <-time.After(grace):
	}
}
