package transfer

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 40 * time.Second
	DefaultBufferSize     = 8192
)

// Config contains the configuration of a Client.
type Config struct {
	// ConnectTimeout bounds dialing and the TLS handshake. Zero disables it.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers and the idle time between
	// two body reads. Zero disables it.
	ReadTimeout time.Duration
	// BufferSize is the chunk size of the streaming copy.
	BufferSize int
	// SyncEveryChunk flushes the destination to stable storage after every chunk.
	SyncEveryChunk bool
	// AcceptPartialContent also treats 206 responses whose Content-Range starts at
	// the resume offset as transferable. Only 200 is accepted otherwise.
	AcceptPartialContent bool
	// ExtraHeaders are added to every request.
	ExtraHeaders map[string]string
	// HTTPClient overrides the client built from the timeouts above.
	HTTPClient *http.Client
}

// DefaultConfig returns the configuration used by Download.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		BufferSize:     DefaultBufferSize,
		SyncEveryChunk: true,
	}
}

// NewHTTPClient builds an instrumented client honoring the connect and read timeouts.
// Transparent decompression is disabled so Content-Encoding reaches the session.
func NewHTTPClient(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		DisableCompression:    true,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
	}
}
