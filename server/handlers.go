package server

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/vinayprograms/quotagate/errors"
	"github.com/vinayprograms/quotagate/ratelimit"
)

// Response is the envelope for every admin reply.
type Response struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Code   string      `json:"code,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "error"
)

// ServiceStatus is the wire form of ratelimit.Status.
type ServiceStatus struct {
	Service         string `json:"service"`
	AvailableTokens int    `json:"available_tokens"`
	MaxTokens       int    `json:"max_tokens"`
	InFlight        int    `json:"in_flight"`
	MaxConcurrent   int    `json:"max_concurrent"`
	QueueLength     int    `json:"queue_length"`
	CooldownMS      int64  `json:"cooldown_ms"`
}

// NewServiceStatus converts an engine snapshot to its wire form.
func NewServiceStatus(st ratelimit.Status) ServiceStatus {
	return ServiceStatus{
		Service:         string(st.Service),
		AvailableTokens: st.AvailableTokens,
		MaxTokens:       st.MaxTokens,
		InFlight:        st.InFlight,
		MaxConcurrent:   st.MaxConcurrent,
		QueueLength:     st.QueueLength,
		CooldownMS:      st.Cooldown.Milliseconds(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, Response{
		Status: statusOK,
		Data: map[string]interface{}{
			"version":  s.version,
			"services": len(s.engine.Services()),
		},
	})
}

func (s *Server) handleStatusAll(w http.ResponseWriter, r *http.Request) {
	all := s.engine.StatusAll()
	out := make([]ServiceStatus, 0, len(all))
	for _, st := range all {
		out = append(out, NewServiceStatus(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	render.JSON(w, r, Response{Status: statusOK, Data: out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	svc := ratelimit.Service(chi.URLParam(r, "service"))
	st, err := s.engine.Status(svc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, Response{Status: statusOK, Data: NewServiceStatus(st)})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	svc := ratelimit.Service(chi.URLParam(r, "service"))
	if err := s.engine.Reset(svc); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("reset_requested", map[string]interface{}{
		"service": string(svc),
		"remote":  r.RemoteAddr,
	})
	st, err := s.engine.Status(svc)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, Response{Status: statusOK, Data: NewServiceStatus(st)})
}

// fail writes err with the HTTP status matching its code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.Code(err)
	status := HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request_failed", map[string]interface{}{
			"path":  r.URL.Path,
			"error": err,
		})
	}
	writeFailure(w, r, status, err)
}

func writeFailure(w http.ResponseWriter, r *http.Request, status int, err error) {
	if ra := retryAfter(err); ra > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ra))
	}
	render.Status(r, status)
	render.JSON(w, r, Response{Status: statusError, Error: err.Error(), Code: errors.Code(err).String()})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, Response{Status: statusError, Error: msg})
}

// HTTPStatus maps an error code to the admin API status.
func HTTPStatus(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeRateLimit, errors.ErrCodeCapacity, errors.ErrCodeQueueTimeout:
		return http.StatusTooManyRequests
	case errors.ErrCodeCanceled:
		return http.StatusConflict
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// retryAfter returns the hint on err in whole seconds, rounded up.
func retryAfter(err error) int {
	e := errors.AsError(err)
	if e == nil || e.RetryAfter() <= 0 {
		return 0
	}
	d := e.RetryAfter()
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
