package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	goahttp "goa.design/goa/v3/http"
	goa "goa.design/goa/v3/pkg"

	"framecast/internal/middleware"
)

// MountPoint holds information about the mounted endpoints.
type MountPoint struct {
	// Method is the name of the service method served by the mounted HTTP handler.
	Method string
	// Verb is the HTTP method used to match requests to the mounted handler.
	Verb string
	// Pattern is the HTTP request path pattern used to match requests to the
	// mounted handler.
	Pattern string
}

// Server lists the camera service HTTP handlers. Stream handlers are kept
// apart from the request/response handlers so that Use never wraps a
// long-lived connection.
type Server struct {
	Mounts     []*MountPoint
	Frame      http.Handler
	Stream     http.Handler
	WSStream   http.Handler
	Status     http.Handler
	Sessions   http.Handler
	Login      http.Handler
	AuthStatus http.Handler

	name string
}

// ErrorBody is the JSON body of error responses
type ErrorBody struct {
	Name    string `json:"name"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// NewServer instantiates HTTP handlers for all the camera service endpoints
// using the provided encoder and decoder. The handlers are mounted on the
// given mux using the HTTP verb and path defined in the Mounts field.
func NewServer(
	svc *CameraService,
	mux goahttp.Muxer,
	decoder func(*http.Request) goahttp.Decoder,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error),
) *Server {
	protect := middleware.AuthMiddleware(svc.auth)
	identify := middleware.OptionalAuth(svc.auth)
	instrument := func(handler string, h http.Handler) http.Handler {
		if svc.metrics == nil {
			return h
		}
		return svc.metrics.InstrumentHandler(svc.Name(), handler, h)
	}

	return &Server{
		Mounts: []*MountPoint{
			{"Frame", "GET", "/frame"},
			{"Stream", "GET", "/stream"},
			{"WSStream", "GET", "/ws/stream"},
			{"Status", "GET", "/status"},
			{"Sessions", "GET", "/sessions"},
			{"Login", "POST", "/auth/login"},
			{"AuthStatus", "GET", "/auth/status"},
		},
		Frame:      instrument("frame", protect(svc.snapshotHandler())),
		Stream:     instrument("stream", protect(svc.mjpegHandler())),
		WSStream:   instrument("ws_stream", protect(svc.wsHandler())),
		Status:     instrument("status", NewStatusHandler(svc, encoder, errhandler)),
		Sessions:   instrument("sessions", protect(NewSessionsHandler(svc, encoder, errhandler))),
		Login:      instrument("login", NewLoginHandler(svc, decoder, encoder, errhandler)),
		AuthStatus: instrument("auth_status", identify(NewAuthStatusHandler(svc, encoder, errhandler))),
		name:       svc.Name(),
	}
}

// Service returns the name of the service served.
func (s *Server) Service() string { return "camera/" + s.name }

// Use wraps the request/response handlers with the given middleware. The
// MJPEG and WebSocket stream handlers are left untouched.
func (s *Server) Use(m func(http.Handler) http.Handler) {
	s.Frame = m(s.Frame)
	s.Status = m(s.Status)
	s.Sessions = m(s.Sessions)
	s.Login = m(s.Login)
	s.AuthStatus = m(s.AuthStatus)
}

// MethodNames returns the methods served.
func (s *Server) MethodNames() []string {
	names := make([]string, len(s.Mounts))
	for i, m := range s.Mounts {
		names[i] = m.Method
	}
	return names
}

// Mount configures the mux to serve the camera service endpoints.
func Mount(mux goahttp.Muxer, h *Server) {
	mux.Handle("GET", "/frame", h.Frame.ServeHTTP)
	mux.Handle("GET", "/stream", h.Stream.ServeHTTP)
	mux.Handle("GET", "/ws/stream", h.WSStream.ServeHTTP)
	mux.Handle("GET", "/status", h.Status.ServeHTTP)
	mux.Handle("GET", "/sessions", h.Sessions.ServeHTTP)
	mux.Handle("POST", "/auth/login", h.Login.ServeHTTP)
	mux.Handle("GET", "/auth/status", h.AuthStatus.ServeHTTP)
}

// NewStatusHandler creates a HTTP handler which serves the service status
func NewStatusHandler(
	svc *CameraService,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error),
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		res, err := svc.Status(ctx)
		if err != nil {
			encodeError(ctx, w, err, encoder, errhandler)
			return
		}
		encodeResult(ctx, w, http.StatusOK, res, encoder, errhandler)
	})
}

// NewAuthStatusHandler creates a HTTP handler which reports the caller's
// authentication state
func NewAuthStatusHandler(
	svc *CameraService,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error),
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		encodeResult(ctx, w, http.StatusOK, svc.AuthStatus(ctx), encoder, errhandler)
	})
}

// NewSessionsHandler creates a HTTP handler which lists viewer sessions
func NewSessionsHandler(
	svc *CameraService,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error),
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var limit int
		if raw := r.URL.Query().Get("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				encodeError(ctx, w, goa.InvalidFieldTypeError("limit", raw, "integer"), encoder, errhandler)
				return
			}
			limit = v
		}

		res, err := svc.Sessions(ctx, limit)
		if err != nil {
			encodeError(ctx, w, err, encoder, errhandler)
			return
		}
		encodeResult(ctx, w, http.StatusOK, res, encoder, errhandler)
	})
}

// NewLoginHandler creates a HTTP handler which issues tokens
func NewLoginHandler(
	svc *CameraService,
	decoder func(*http.Request) goahttp.Decoder,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error),
) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload LoginPayload
		if err := decoder(r).Decode(&payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = goa.MissingPayloadError()
			} else {
				err = goa.DecodePayloadError(err.Error())
			}
			encodeError(ctx, w, err, encoder, errhandler)
			return
		}

		res, err := svc.Login(ctx, &payload)
		if err != nil {
			encodeError(ctx, w, err, encoder, errhandler)
			return
		}
		encodeResult(ctx, w, http.StatusOK, res, encoder, errhandler)
	})
}

func encodeResult(ctx context.Context, w http.ResponseWriter, code int, v any,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error)) {
	enc := encoder(ctx, w)
	w.WriteHeader(code)
	if err := enc.Encode(v); err != nil {
		errhandler(ctx, w, err)
	}
}

// encodeError maps service errors onto status codes. Errors that are not
// service errors are faults and go to errhandler.
func encodeError(ctx context.Context, w http.ResponseWriter, err error,
	encoder func(context.Context, http.ResponseWriter) goahttp.Encoder,
	errhandler func(context.Context, http.ResponseWriter, error)) {
	var serr *goa.ServiceError
	if !errors.As(err, &serr) || serr.Fault {
		w.WriteHeader(http.StatusInternalServerError)
		errhandler(ctx, w, err)
		return
	}

	code := http.StatusBadRequest
	switch serr.Name {
	case "unauthorized":
		code = http.StatusUnauthorized
	case "not_found":
		code = http.StatusNotFound
	}

	encodeResult(ctx, w, code, &ErrorBody{Name: serr.Name, ID: serr.ID, Message: serr.Message}, encoder, errhandler)
}
