package smtpd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"tuatara.dev/go/smtpd/internal/log"
)

// FilterResult is the three-valued outcome a MailboxFilter or
// UserAuthenticator returns.
type FilterResult int

const (
	// Yes accepts the mailbox or credential.
	Yes FilterResult = iota
	// NoTemporarily rejects with a 4xx response; the peer may retry.
	NoTemporarily
	// NoPermanently rejects with a 5xx response.
	NoPermanently
)

// MessageStore receives a completed message transaction handed off by a
// successful DATA command.
type MessageStore interface {
	Store(ctx context.Context, tx *Transaction) error
}

// MailboxFilter decides whether a MAIL FROM or RCPT TO mailbox is
// accepted. isRecipient distinguishes a RCPT check from a MAIL check.
type MailboxFilter interface {
	Accept(ctx context.Context, mbox Mailbox, isRecipient bool) (FilterResult, error)
}

// UserAuthenticator validates AUTH credentials for a domain.
type UserAuthenticator interface {
	Authenticate(ctx context.Context, user, domain, password string) (FilterResult, error)
}

// MessageStoreFactory, MailboxFilterFactory and UserAuthenticatorFactory
// each produce one collaborator instance per session, so an implementation
// that is not inherently concurrency-safe can be written single-threaded
// at the instance level.
type (
	MessageStoreFactory       func() MessageStore
	MailboxFilterFactory      func() MailboxFilter
	UserAuthenticatorFactory  func() UserAuthenticator
)

// EndpointListenerFactory binds a listening socket for an address. Two
// implementations ship with this package: TCPListenerFactory and
// internal/systemd's socket-activated factory.
type EndpointListenerFactory interface {
	Listen(address string) (net.Listener, error)
}

// TCPListenerFactory is the trivial EndpointListenerFactory backed by
// net.Listen("tcp", ...).
type TCPListenerFactory struct{}

// Listen implements EndpointListenerFactory.
func (TCPListenerFactory) Listen(address string) (net.Listener, error) {
	return net.Listen("tcp", address)
}

// EndpointDefinition describes one bound listening address.
type EndpointDefinition struct {
	Address string
	Port    int

	// ReadTimeout is the connection deadline set before each command line
	// is read on connections accepted on this endpoint (capped by the
	// command wait timeout when that is shorter). The one deadline covers
	// the line and whatever the command then reads, such as a DATA body;
	// it is not renewed per buffer read. Defaults to 2 minutes.
	ReadTimeout time.Duration

	// IsSecure marks this endpoint as implicit TLS (SMTPS on 465), as
	// opposed to plaintext-with-optional-STARTTLS.
	IsSecure bool

	ServerCertificate *tls.Certificate

	// AllowUnsecureAuthentication permits AUTH on a connection that is
	// not (yet) TLS-protected.
	AllowUnsecureAuthentication bool
}

func (e EndpointDefinition) addr() string {
	// An Address of "systemd:<name>" names a socket-activated listener
	// rather than a host:port to bind; Port is meaningless there.
	if strings.HasPrefix(e.Address, "systemd:") {
		return e.Address
	}
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}

// Lifecycle callback shapes, invoked synchronously from the accepting or
// session goroutine; there is no separate event bus.
type (
	SessionCreatedFunc   func(ctx context.Context, s *Session)
	SessionCompletedFunc func(ctx context.Context, s *Session, err error)
	CommandExecutingFunc func(ctx context.Context, s *Session, keyword string)
	EndpointStartedFunc  func(e EndpointDefinition)
	EndpointStoppedFunc  func(e EndpointDefinition)
)

// Options is the immutable server configuration produced by
// ServerOptions.Build.
type Options struct {
	serverName               string
	endpoints                []EndpointDefinition
	endpointListenerFactory  EndpointListenerFactory
	messageStoreFactory      MessageStoreFactory
	mailboxFilterFactory     MailboxFilterFactory
	userAuthenticatorFactory UserAuthenticatorFactory

	maxMessageSize             int64
	maxRetryCount              int
	maxAuthenticationAttempts  int
	networkBufferSize          int
	commandWaitTimeout         time.Duration
	shutdownGracePeriod        time.Duration

	logger                         *log.Logger
	supportedAuthenticationMethods []string

	onSessionCreated   SessionCreatedFunc
	onSessionCompleted SessionCompletedFunc
	onCommandExecuting CommandExecutingFunc
	onEndpointStarted  EndpointStartedFunc
	onEndpointStopped  EndpointStoppedFunc
}

// acceptAllFilter is the default MailboxFilter used when the caller does
// not supply one: it accepts every mailbox.
type acceptAllFilter struct{}

func (acceptAllFilter) Accept(context.Context, Mailbox, bool) (FilterResult, error) {
	return Yes, nil
}

// ServerOptions builds an immutable Options value. Use NewOptions, chain
// the With... methods, then call Build; nothing about a built Options can
// be mutated afterwards.
type ServerOptions struct {
	opt Options
}

// NewOptions returns a builder seeded with the spec's defaults:
// maxRetryCount 5, networkBufferSize 4096, commandWaitTimeout 5 minutes,
// the plain TCP listener factory, PLAIN/LOGIN authentication, and
// logging to internal/log's default logger.
func NewOptions() *ServerOptions {
	return &ServerOptions{opt: Options{
		endpointListenerFactory:        TCPListenerFactory{},
		mailboxFilterFactory:           func() MailboxFilter { return acceptAllFilter{} },
		maxRetryCount:                  5,
		networkBufferSize:              4096,
		commandWaitTimeout:             5 * time.Minute,
		shutdownGracePeriod:            30 * time.Second,
		supportedAuthenticationMethods: []string{"PLAIN", "LOGIN"},
		logger:                         log.Default,
	}}
}

// WithServerName sets the name the server announces in its banner and
// HELO/EHLO response.
func (b *ServerOptions) WithServerName(name string) *ServerOptions {
	b.opt.serverName = name
	return b
}

// WithEndpoint adds a listening endpoint. ReadTimeout defaults to 2
// minutes when left zero.
func (b *ServerOptions) WithEndpoint(e EndpointDefinition) *ServerOptions {
	if e.ReadTimeout == 0 {
		e.ReadTimeout = 2 * time.Minute
	}
	b.opt.endpoints = append(b.opt.endpoints, e)
	return b
}

// WithEndpointListenerFactory overrides the default net.Listen-backed
// factory, e.g. with a systemd socket-activation factory.
func (b *ServerOptions) WithEndpointListenerFactory(f EndpointListenerFactory) *ServerOptions {
	b.opt.endpointListenerFactory = f
	return b
}

// WithMessageStoreFactory sets the factory for the collaborator that
// receives completed transactions. Required; Build fails without one.
func (b *ServerOptions) WithMessageStoreFactory(f MessageStoreFactory) *ServerOptions {
	b.opt.messageStoreFactory = f
	return b
}

// WithMailboxFilterFactory overrides the default accept-everything
// filter.
func (b *ServerOptions) WithMailboxFilterFactory(f MailboxFilterFactory) *ServerOptions {
	b.opt.mailboxFilterFactory = f
	return b
}

// WithUserAuthenticatorFactory sets the factory for AUTH credential
// checks. Leaving this nil disables AUTH entirely.
func (b *ServerOptions) WithUserAuthenticatorFactory(f UserAuthenticatorFactory) *ServerOptions {
	b.opt.userAuthenticatorFactory = f
	return b
}

// WithMaxMessageSize caps the DATA body size in octets; 0 means no cap.
func (b *ServerOptions) WithMaxMessageSize(n int64) *ServerOptions {
	b.opt.maxMessageSize = n
	return b
}

// WithMaxRetryCount overrides the default of 5 failed commands before the
// session is terminated.
func (b *ServerOptions) WithMaxRetryCount(n int) *ServerOptions {
	b.opt.maxRetryCount = n
	return b
}

// WithMaxAuthenticationAttempts caps failed AUTH attempts before the
// session is terminated; 0 means no cap beyond maxRetryCount.
func (b *ServerOptions) WithMaxAuthenticationAttempts(n int) *ServerOptions {
	b.opt.maxAuthenticationAttempts = n
	return b
}

// WithNetworkBufferSize overrides the default 4096-byte bufio size used
// for both the command reader and the response writer. The command
// reader is never sized below 4096 regardless of n, since the
// 1000-octet command line cap (RFC 5321 section 4.5.3.1.4) needs a
// buffer comfortably larger than that to read a maximal valid line in
// one bufio.Reader.ReadLine call.
func (b *ServerOptions) WithNetworkBufferSize(n int) *ServerOptions {
	b.opt.networkBufferSize = n
	return b
}

// WithCommandWaitTimeout overrides the default 5-minute wait for a
// complete command line. The endpoint's ReadTimeout applies instead when
// it is shorter.
func (b *ServerOptions) WithCommandWaitTimeout(d time.Duration) *ServerOptions {
	b.opt.commandWaitTimeout = d
	return b
}

// WithShutdownGracePeriod bounds how long Server.Stop waits for in-flight
// sessions to finish before its WaitGroup wait returns regardless.
func (b *ServerOptions) WithShutdownGracePeriod(d time.Duration) *ServerOptions {
	b.opt.shutdownGracePeriod = d
	return b
}

// WithLogger overrides the default logger.
func (b *ServerOptions) WithLogger(l *log.Logger) *ServerOptions {
	b.opt.logger = l
	return b
}

// WithSupportedAuthenticationMethods overrides the default {PLAIN,
// LOGIN} mechanism list advertised in EHLO and accepted by AUTH.
func (b *ServerOptions) WithSupportedAuthenticationMethods(methods ...string) *ServerOptions {
	b.opt.supportedAuthenticationMethods = methods
	return b
}

// WithSessionCreated registers a callback fired once a Session is
// constructed, before its first command is read.
func (b *ServerOptions) WithSessionCreated(f SessionCreatedFunc) *ServerOptions {
	b.opt.onSessionCreated = f
	return b
}

// WithSessionCompleted registers a callback fired once a session's
// connection has closed, for any reason.
func (b *ServerOptions) WithSessionCompleted(f SessionCompletedFunc) *ServerOptions {
	b.opt.onSessionCompleted = f
	return b
}

// WithCommandExecuting registers a callback fired just before each
// parsed command executes.
func (b *ServerOptions) WithCommandExecuting(f CommandExecutingFunc) *ServerOptions {
	b.opt.onCommandExecuting = f
	return b
}

// WithEndpointStarted registers a callback fired after an endpoint has
// successfully bound its listening socket.
func (b *ServerOptions) WithEndpointStarted(f EndpointStartedFunc) *ServerOptions {
	b.opt.onEndpointStarted = f
	return b
}

// WithEndpointStopped registers a callback fired after an endpoint's
// listening socket has finally closed.
func (b *ServerOptions) WithEndpointStopped(f EndpointStoppedFunc) *ServerOptions {
	b.opt.onEndpointStopped = f
	return b
}

// Build validates the accumulated options and returns an immutable
// Options value. The returned value shares no mutable state with the
// builder; further calls on b do not affect it.
func (b *ServerOptions) Build() (*Options, error) {
	if b.opt.serverName == "" {
		return nil, errors.New("smtpd: server name is required")
	}
	if len(b.opt.endpoints) == 0 {
		return nil, errors.New("smtpd: at least one endpoint is required")
	}
	if b.opt.messageStoreFactory == nil {
		return nil, errors.New("smtpd: a message store factory is required")
	}
	if b.opt.logger == nil {
		b.opt.logger = log.Default
	}

	opt := b.opt
	opt.endpoints = append([]EndpointDefinition(nil), b.opt.endpoints...)
	opt.supportedAuthenticationMethods = append([]string(nil), b.opt.supportedAuthenticationMethods...)
	return &opt, nil
}
