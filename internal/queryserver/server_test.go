package queryserver

import (
	"bytes"
	"crypto/sha1"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ipwned/internal/rsqf"
)

func newTestFilter(t *testing.T, members ...string) *rsqf.Filter {
	t.Helper()
	f, err := rsqf.New(1000, 0.01)
	require.NoError(t, err)
	for _, m := range members {
		h := sha1.Sum([]byte(m))
		require.NoError(t, f.Insert(h))
	}
	return f
}

func TestQueryKnownHashReturns205(t *testing.T) {
	filt := newTestFilter(t, "test")
	srv := httptest.NewServer(New(filt, zap.NewNop()))
	defer srv.Close()

	h := sha1.Sum([]byte("test"))
	resp, err := http.Post(srv.URL, "application/octet-stream", bytes.NewReader(h[:]))
	require.NoError(t, err)
	require.Equal(t, http.StatusResetContent, resp.StatusCode)
}

func TestQueryUnknownHashReturns204(t *testing.T) {
	filt := newTestFilter(t, "test")
	srv := httptest.NewServer(New(filt, zap.NewNop()))
	defer srv.Close()

	h := sha1.Sum([]byte("correct horse battery staple"))
	resp, err := http.Post(srv.URL, "application/octet-stream", bytes.NewReader(h[:]))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestQueryMalformedBodyReturns400(t *testing.T) {
	filt := newTestFilter(t, "test")
	srv := httptest.NewServer(New(filt, zap.NewNop()))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/octet-stream", bytes.NewReader([]byte("too short")))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryRejectsNonPost(t *testing.T) {
	filt := newTestFilter(t, "test")
	srv := httptest.NewServer(New(filt, zap.NewNop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
