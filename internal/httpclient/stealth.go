package httpclient

import (
	"net/http"
	"sync"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/sirupsen/logrus"
)

// StealthManager builds clients with browser TLS fingerprints for upstreams
// behind anti-bot TLS inspection. Clients are cached by timeout.
type StealthManager struct {
	clients sync.Map
}

// NewStealthManager creates an empty stealth client cache.
func NewStealthManager() *StealthManager {
	return &StealthManager{}
}

// GetClient returns a TLS-impersonating client with the given total request
// timeout.
func (m *StealthManager) GetClient(timeout time.Duration) *http.Client {
	if cached, ok := m.clients.Load(timeout); ok {
		return cached.(*http.Client)
	}
	client := createStealthClient(timeout)
	actual, _ := m.clients.LoadOrStore(timeout, client)
	return actual.(*http.Client)
}

// createStealthClient builds an http.Client whose transport performs the TLS
// handshake with a Chrome fingerprint. On construction failure it falls back
// to a standard client so requests still go out, just without impersonation.
func createStealthClient(timeout time.Duration) *http.Client {
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(timeout.Seconds())),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithRandomTLSExtensionOrder(),
	}

	tlsClient, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		logrus.WithError(err).Warn("Failed to create TLS-impersonating client, falling back to standard client")
		return &http.Client{Timeout: timeout}
	}

	return &http.Client{
		Transport: &tlsClientTransport{client: tlsClient},
		Timeout:   timeout,
	}
}

// tlsClientTransport adapts the tls-client to http.RoundTripper so the rest
// of the proxy keeps working with standard requests and responses.
type tlsClientTransport struct {
	client tls_client.HttpClient
}

func (t *tlsClientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fhttpReq := &fhttp.Request{
		Method: req.Method,
		URL:    req.URL,
		Header: convertHeaders(req.Header),
		Body:   req.Body,
	}
	fhttpReq = fhttpReq.WithContext(req.Context())

	fhttpResp, err := t.client.Do(fhttpReq)
	if err != nil {
		return nil, err
	}

	return &http.Response{
		Status:        fhttpResp.Status,
		StatusCode:    fhttpResp.StatusCode,
		Proto:         fhttpResp.Proto,
		ProtoMajor:    fhttpResp.ProtoMajor,
		ProtoMinor:    fhttpResp.ProtoMinor,
		Header:        convertHeadersBack(fhttpResp.Header),
		Body:          fhttpResp.Body,
		ContentLength: fhttpResp.ContentLength,
		Request:       req,
	}, nil
}

func convertHeaders(h http.Header) fhttp.Header {
	fh := make(fhttp.Header, len(h))
	for k, v := range h {
		fh[k] = v
	}
	return fh
}

func convertHeadersBack(fh fhttp.Header) http.Header {
	h := make(http.Header, len(fh))
	for k, v := range fh {
		h[k] = v
	}
	return h
}
