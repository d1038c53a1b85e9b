package gateway

import (
	"net"
	"net/http"
	"time"
)

const (
	DefaultConnectTimeout  = time.Second
	DefaultResponseTimeout = 3 * time.Second
)

// NewHTTPClient builds the client shared by provider integrations. A timeout
// surfaces as an ErrorTimeout through FromTransport, never as "retry later".
func NewHTTPClient(connectTimeout, responseTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: responseTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   connectTimeout + responseTimeout,
	}
}
