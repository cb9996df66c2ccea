package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jobportal/internal/logger"
)

// RequestLog logs method, path, status and duration of every request. Slow requests are logged
// at info level, the rest at debug.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := wrap(w)
		next.ServeHTTP(rw, r)
		logger.LogDuration("http "+r.Method+" "+r.URL.Path+" status="+strconv.Itoa(rw.status), start)
	})
}
