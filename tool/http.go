package tool

import (
	"net/http"
	"time"
)

var DefaultTimeout = 30 * time.Second

// NewHTTPClient creates an HTTP client for another readersync node. In HTTPS
// mode the node's self-signed certificate must match fingerprint; an empty
// fingerprint trusts whatever the node presents.
func NewHTTPClient(protocol, fingerprint string) *http.Client {
	client := &http.Client{Timeout: DefaultTimeout}
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}
	if protocol == "https" {
		if fingerprint == "" {
			DefaultLogger.Debugf("no certificate fingerprint known, trusting the peer certificate as presented")
		}
		transport.TLSClientConfig = PinnedTLSConfig(fingerprint)
	}
	client.Transport = transport
	return client
}
