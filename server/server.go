package server

import (
	"net"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/uamesh/uasc/ua"
)

// protocolVersion of the UA TCP transport.
const protocolVersion uint32 = 0

const (
	defaultSecureChannelLifetime uint32 = 300_000
	defaultReceiveBufferSize     uint32 = defaultBufferSize
	defaultSendBufferSize        uint32 = defaultBufferSize
	defaultMaxMessageSize        uint32 = 16 * 1024 * 1024
	defaultMaxChunkCount         uint32 = 4 * 1024
	defaultMaxWorkerThreads      int    = 4
)

// Server listens for UA TCP connections and drives the secure channel
// handshake for each of them. Everything above the secure channel is left to
// the configured service handler.
type Server struct {
	logger   *zap.SugaredLogger
	registry *ua.CodecRegistry
	store    *CertificateStore
	manager  *ChannelManager
	queue    *SerializationQueue

	endpointURL           string
	limits                Limits
	secureChannelLifetime uint32
	maxWorkerThreads      int
	serviceHandler        ServiceHandler

	workerpool *workerpool.WorkerPool

	mu       sync.Mutex
	listener net.Listener
	closed   chan struct{}
}

// New constructs a server for the endpoint url with the given codec registry
// and certificate store.
func New(endpointURL string, registry *ua.CodecRegistry, store *CertificateStore, logger *zap.SugaredLogger, opts ...Option) *Server {
	srv := &Server{
		logger:   logger,
		registry: registry,
		store:    store,

		endpointURL: endpointURL,
		limits: Limits{
			ReceiveBufferSize: defaultReceiveBufferSize,
			SendBufferSize:    defaultSendBufferSize,
			MaxMessageSize:    defaultMaxMessageSize,
			MaxChunkCount:     defaultMaxChunkCount,
		},
		secureChannelLifetime: defaultSecureChannelLifetime,
		maxWorkerThreads:      defaultMaxWorkerThreads,
		closed:                make(chan struct{}),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.manager = NewChannelManager(logger)
	srv.workerpool = workerpool.New(srv.maxWorkerThreads)
	srv.queue = NewSerializationQueue(srv.workerpool, logger)
	return srv
}

// ChannelManager returns the channel registry.
func (srv *Server) ChannelManager() *ChannelManager {
	return srv.manager
}

// EndpointURL returns the configured endpoint url.
func (srv *Server) EndpointURL() string {
	return srv.endpointURL
}

// ListenAndServe accepts connections until Close is called.
func (srv *Server) ListenAndServe() error {
	addr, err := hostPort(srv.endpointURL)
	if err != nil {
		return err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listening")
	}
	srv.mu.Lock()
	srv.listener = l
	srv.mu.Unlock()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-srv.closed:
				return ua.BadServerHalted
			default:
				return errors.Wrap(err, "accepting")
			}
		}
		go srv.ServeConn(conn)
	}
}

// ServeConn negotiates the transport parameters and runs the handler stack
// for one connection. It blocks until the connection closes.
func (srv *Server) ServeConn(conn net.Conn) {
	t := NewTransport(conn, srv.logger, srv.limits)
	if err := t.Negotiate(protocolVersion); err != nil {
		srv.logger.Warnw("transport negotiation failed", "remote", conn.RemoteAddr(), "error", err)
		t.Abort(err)
		return
	}
	t.Append(NewAsymmetricHandler(srv))
	t.Run()
}

// Close stops the listener, closes every channel and stops the worker pool.
func (srv *Server) Close() error {
	srv.mu.Lock()
	select {
	case <-srv.closed:
		srv.mu.Unlock()
		return nil
	default:
	}
	close(srv.closed)
	l := srv.listener
	srv.mu.Unlock()
	if l != nil {
		l.Close()
	}
	srv.manager.CloseAll()
	srv.workerpool.StopWait()
	return nil
}

// hostPort extracts the host:port of an opc.tcp endpoint url.
func hostPort(endpointURL string) (string, error) {
	const scheme = "opc.tcp://"
	if len(endpointURL) <= len(scheme) || endpointURL[:len(scheme)] != scheme {
		return "", ua.BadTCPEndpointURLInvalid
	}
	rest := endpointURL[len(scheme):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], nil
		}
	}
	return rest, nil
}

// reviseLifetime clamps the requested token lifetime to the configured
// maximum; a zero request gets the configured default.
func (srv *Server) reviseLifetime(requested uint32) uint32 {
	if requested == 0 || requested > srv.secureChannelLifetime {
		return srv.secureChannelLifetime
	}
	return requested
}
