package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseShardS1(t *testing.T) {
	body := []byte("003D68EB55068C33ACE09247EE4C639306B:3\r\n")
	hashes, skipped, err := ParseShard(0x00000, body)
	require.NoError(t, err)
	require.Equal(t, 0, skipped)
	require.Len(t, hashes, 1)
	require.Equal(t, "00000003D68EB55068C33ACE09247EE4C639306B", hexString(hashes[0]))
}

func TestParseShardSkipsMalformedLines(t *testing.T) {
	body := []byte("not-a-valid-line\r\n003D68EB55068C33ACE09247EE4C639306B:3\r\n:5\r\n")
	hashes, skipped, err := ParseShard(0x00000, body)
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	require.Equal(t, 2, skipped)
}

func hexString(h [20]byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 40)
	for i, b := range h {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xF]
	}
	return string(out)
}

func TestFetch200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", "\"abc123\"")
		w.Write([]byte("003D68EB55068C33ACE09247EE4C639306B:3\r\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", 2, time.Second)
	res, err := c.Fetch(context.Background(), 0, "")
	require.NoError(t, err)
	require.False(t, res.Unchanged)
	require.Len(t, res.Hashes, 1)
	require.Equal(t, "\"abc123\"", res.ETag)
}

func TestFetch304(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "\"prior\"", r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", 2, time.Second)
	res, err := c.Fetch(context.Background(), 1, "\"prior\"")
	require.NoError(t, err)
	require.True(t, res.Unchanged)
	require.Equal(t, "\"prior\"", res.ETag)
}

func TestFetch404IsFatalWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", 5, time.Second)
	_, err := c.Fetch(context.Background(), 2, "")
	require.True(t, errors.Is(err, ErrShardFatal))
	require.EqualValues(t, 1, calls.Load())
}

func TestFetchRetries500ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("003D68EB55068C33ACE09247EE4C639306B:3\r\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", 5, time.Second)
	res, err := c.Fetch(context.Background(), 2, "")
	require.NoError(t, err)
	require.Len(t, res.Hashes, 1)
	require.EqualValues(t, 4, calls.Load())
}

func TestFetchFailsAfterRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", 2, time.Second)
	_, err := c.Fetch(context.Background(), 2, "")
	require.True(t, errors.Is(err, ErrShardFatal))
}
