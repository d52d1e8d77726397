package idempotency

import (
	"bytes"
	"net/http"
)

// headerKey is the client-chosen retry token. Requests without it are never
// recorded or replayed.
const headerKey = "Idempotency-Key"

// Middleware replays the recorded response for a repeated Idempotency-Key
// and records first-time responses as they stream out. Replays carry an
// Idempotency-Replay header so clients can tell a recording from a fresh
// consensus.
func Middleware(cache *Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if e, ok := cache.Get(key); ok {
				for k, v := range e.Header {
					w.Header().Set(k, v)
				}
				w.Header().Set("Idempotency-Replay", "true")
				w.WriteHeader(e.Status)
				_, _ = w.Write(e.Body)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			header := make(map[string]string, len(rec.Header()))
			for k, vs := range rec.Header() {
				if len(vs) > 0 {
					header[k] = vs[0]
				}
			}
			cache.Set(key, rec.body.Bytes(), rec.status, header)
		})
	}
}

// recorder tees the response so the body and status can be recorded after
// the handler finishes.
type recorder struct {
	http.ResponseWriter
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
