package server

import (
	"io"
	"net/http"

	"github.com/juju/ratelimit"
)

// throttledWriter passes the body of a response through a shared token bucket.
type throttledWriter struct {
	http.ResponseWriter
	body io.Writer
}

func (w throttledWriter) Write(p []byte) (int, error) {
	return w.body.Write(p)
}

func newBucket(bytesPerSec int64) *ratelimit.Bucket {
	if bytesPerSec <= 0 {
		return nil
	}
	return ratelimit.NewBucketWithRate(float64(bytesPerSec), bytesPerSec)
}

// throttle returns w unchanged if serving is unlimited.
func (s *Server) throttle(w http.ResponseWriter) http.ResponseWriter {
	if s.bucket == nil {
		return w
	}
	return throttledWriter{ResponseWriter: w, body: ratelimit.Writer(w, s.bucket)}
}
