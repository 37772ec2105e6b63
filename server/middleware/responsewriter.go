package middleware

import "net/http"

// recorder notes what a handler sent so logging and tracing can report
// it. Watch streams flush repeatedly; flushes counts those calls.
type recorder struct {
	http.ResponseWriter
	status  int
	bytes   int64
	flushes int
	sent    bool
}

func record(w http.ResponseWriter) *recorder {
	return &recorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *recorder) WriteHeader(code int) {
	if !r.sent {
		r.status, r.sent = code, true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.sent = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *recorder) Flush() {
	r.flushes++
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the connection, which the
// watch handler needs to lift the write deadline.
func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *recorder) streamed() bool { return r.flushes > 0 }
