package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tinwren/launchpit/internal/reqid"
)

func MiddlewarePromptAnswer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType := r.Header.Get("Content-Type"); contentType != "" && !strings.HasPrefix(contentType, "application/json") {
			markErr(w, ErrContentType)
			http.Error(w, ErrContentType.Error(), http.StatusUnsupportedMediaType)
			return
		}

		// Body limit
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

		var body answerBody
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			markErr(w, err)
			http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		if body.Response == nil {
			markErr(w, ErrResponseJSON)
			http.Error(w, ErrResponseJSON.Error(), http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAnswer{}, body)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *LauncherHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		timeElapsed := time.Since(startTime)

		attrs := []any{
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", timeElapsed.Milliseconds(),
			"bytes", rw.bytes,
		}
		if id, ok := reqid.From(r.Context()); ok {
			attrs = append(attrs, "req_id", id)
		}
		if rw.err != nil {
			h.l.Error(rw.err.Error(), attrs...)
			return
		}
		h.l.Info("", attrs...)
	})
}
