package tool

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeCertificateFingerprint(t *testing.T) {
	cert, err := NewNodeCertificate("laptop")
	require.NoError(t, err)
	require.Len(t, cert.Config.Certificates, 1)
	assert.Len(t, cert.Fingerprint, 64)
	assert.Equal(t, CertFingerprint(cert.Config.Certificates[0].Certificate[0]), cert.Fingerprint)

	other, err := NewNodeCertificate("laptop")
	require.NoError(t, err)
	assert.NotEqual(t, cert.Fingerprint, other.Fingerprint)
}

func TestHTTPClientPinsFingerprint(t *testing.T) {
	cert, err := NewNodeCertificate("peer")
	require.NoError(t, err)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = cert.Config
	srv.StartTLS()
	defer srv.Close()

	resp, err := NewHTTPClient("https", cert.Fingerprint).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = NewHTTPClient("https", strings.ToUpper(cert.Fingerprint)).Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	_, err = NewHTTPClient("https", strings.Repeat("0", 64)).Get(srv.URL)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	// nothing announced, nothing to pin against
	resp, err = NewHTTPClient("https", "").Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
}
