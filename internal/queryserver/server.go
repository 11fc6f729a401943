// Package queryserver exposes a single endpoint that answers whether a
// SHA-1 password hash is present in a pre-built filter.
package queryserver

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"ipwned/config"
	"ipwned/internal/rsqf"
)

// Server answers POST requests whose body is a raw 20-byte SHA-1 digest.
// It responds 205 (Reset Content) if the hash is present in the filter,
// 204 (No Content) if it is absent, 400 if the body is not exactly 20
// bytes, and 405 for any method other than POST.
// The filter is loaded once at startup and never mutated, so Server needs
// no locking beyond whatever Filter.Contains already does internally.
type Server struct {
	filt   *rsqf.Filter
	logger *zap.Logger
}

// New wraps filt in an http.Handler.
func New(filt *rsqf.Filter, logger *zap.Logger) *Server {
	return &Server{filt: filt, logger: logger}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, config.HashSize+1))
	if err != nil {
		s.logger.Debug("error reading query body", zap.Error(err))
		http.Error(w, "error reading body", http.StatusBadRequest)
		return
	}
	if len(body) != config.HashSize {
		s.logger.Debug("malformed query body", zap.Int("length", len(body)))
		http.Error(w, "body must be exactly 20 bytes", http.StatusBadRequest)
		return
	}

	var hash [config.HashSize]byte
	copy(hash[:], body)

	if s.filt.Contains(hash) {
		w.WriteHeader(http.StatusResetContent) // 205: compromised
		return
	}
	w.WriteHeader(http.StatusNoContent) // 204: not found
}
