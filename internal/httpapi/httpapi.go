// Package httpapi binds the lending operations to HTTP.
//
// Authentication happens upstream: the verified actor handle arrives in the
// X-User-Handle header. Every error is written as {"error": "<message>"}.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/lending"
)

// ActorHeader carries the authenticated user handle.
const ActorHeader = "X-User-Handle"

// Observer is told about every served request. internal/metrics implements it.
type Observer interface {
	RequestServed(route, method string, status int)
}

type nopObserver struct{}

func (nopObserver) RequestServed(string, string, int) {}

// Server holds the handlers.
type Server struct {
	svc      *lending.Service
	observer Observer
	metrics  http.Handler
	admins   map[string]bool
}

// Option configures a Server.
type Option func(*Server)

// WithObserver reports served requests.
func WithObserver(o Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithAdmins lets handles open halls and buy hall accounts. Without any
// admins those routes always answer 403.
func WithAdmins(handles ...string) Option {
	return func(s *Server) {
		for _, h := range handles {
			if h != "" {
				s.admins[h] = true
			}
		}
	}
}

// New creates a Server.
func New(svc *lending.Service, opts ...Option) *Server {
	s := &Server{svc: svc, observer: nopObserver{}, admins: map[string]bool{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the routed handler.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logging)

	// Request lifecycle.
	r.HandleFunc("/books/{bookId}/requests", s.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/books/{bookId}/requests", s.handleListRequests).Methods(http.MethodGet)
	r.HandleFunc("/requests/{requestId}/accept", s.handleDecide(string(domain.StatusAccepted))).Methods(http.MethodPost)
	r.HandleFunc("/requests/{requestId}/decline", s.handleDecide(string(domain.StatusDeclined))).Methods(http.MethodPost)
	r.HandleFunc("/requests/{requestId}", s.handleCancel).Methods(http.MethodDelete)
	r.HandleFunc("/requests/{requestId}", s.handleGetRequest).Methods(http.MethodGet)

	// Books.
	r.HandleFunc("/books", s.handleListBooks).Methods(http.MethodGet)
	r.HandleFunc("/books", s.handlePostBook).Methods(http.MethodPost)
	r.HandleFunc("/books/{bookId}", s.handleGetBook).Methods(http.MethodGet)
	r.HandleFunc("/books/{bookId}", s.handleDeleteBook).Methods(http.MethodDelete)
	r.HandleFunc("/books/{bookId}/comments", s.handleComment).Methods(http.MethodPost)
	r.HandleFunc("/books/{bookId}/reset", s.handleReset).Methods(http.MethodPost)
	r.HandleFunc("/books/{bookId}/desired", s.handleAddDesired).Methods(http.MethodPost)
	r.HandleFunc("/books/{bookId}/desired", s.handleRemoveDesired).Methods(http.MethodDelete)

	// Users and notifications.
	r.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	r.HandleFunc("/users/{handle}", s.handleGetUser).Methods(http.MethodGet)
	r.HandleFunc("/users/{handle}/books", s.handleUserBooks).Methods(http.MethodGet)
	r.HandleFunc("/me", s.handleUpdateProfile).Methods(http.MethodPatch)
	r.HandleFunc("/me/desireds", s.handleDesireds).Methods(http.MethodGet)
	r.HandleFunc("/notifications", s.handleNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/read", s.handleMarkRead).Methods(http.MethodPost)

	// Halls.
	r.HandleFunc("/halls", s.handleCreateHall).Methods(http.MethodPost)
	r.HandleFunc("/halls/{location}", s.handleGetHall).Methods(http.MethodGet)
	r.HandleFunc("/halls/{location}/members", s.handleJoinHall).Methods(http.MethodPost)
	r.HandleFunc("/halls/{location}/accounts", s.handleBuyAccounts).Methods(http.MethodPost)
	r.HandleFunc("/halls/{location}/residents", s.handleResidents).Methods(http.MethodGet)
	r.HandleFunc("/halls/{location}/stats", s.handleHallStats).Methods(http.MethodGet)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

// statusWriter captures the status code for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.observer.RequestServed(route, r.Method, sw.status)
		slog.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", sw.status,
			"actor", r.Header.Get(ActorHeader),
			"duration", time.Since(start),
		)
	})
}

// errorStatus maps an error code to an HTTP status. Routes override entries
// where their contract differs.
type errorStatus map[domain.ErrorCode]int

// defaultStatus applies to every route. INVALID_TRANSITION is 409 Conflict:
//
//	POST   /books/{bookId}/requests       the book is on loan
//	POST   /requests/{requestId}/accept   request decided, book lent, or too few spendable tickets
//	POST   /requests/{requestId}/decline  request already decided
//	DELETE /requests/{requestId}          request no longer pending
//	POST   /books/{bookId}/reset          the book is not on loan
//	POST   /books/{bookId}/desired        the book is not on loan
//	POST   /halls/{location}/members      the hall has no accounts left
var defaultStatus = errorStatus{
	domain.CodeNotFound:          http.StatusNotFound,
	domain.CodeInvalidTransition: http.StatusConflict,
	domain.CodeAlreadyExists:     http.StatusBadRequest,
	domain.CodeUnauthorized:      http.StatusForbidden,
	domain.CodeInvalidArgument:   http.StatusBadRequest,
	domain.CodeTransientStore:    http.StatusServiceUnavailable,
}

// Cancelling an unknown request is a client error, not a missing resource:
// DELETE /requests/{requestId} answers 400 for NOT_FOUND and keeps 409 for a
// request that is no longer pending.
var cancelStatus = errorStatus{domain.CodeNotFound: http.StatusBadRequest}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeError(w http.ResponseWriter, err error, overrides errorStatus) {
	var de *domain.Error
	if !errors.As(err, &de) {
		slog.Error("unclassified error", "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}
	status, ok := overrides[de.Code]
	if !ok {
		status, ok = defaultStatus[de.Code]
	}
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := de.Message
	if de.Code == domain.CodeTransientStore {
		msg = "temporarily unavailable, try again"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// actor returns the authenticated handle, writing 401 when absent.
func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	h := r.Header.Get(ActorHeader)
	if h == "" {
		writeMessage(w, http.StatusUnauthorized, "missing "+ActorHeader+" header")
		return "", false
	}
	return h, true
}

// admin returns the authenticated handle if it may run hall administration,
// writing 401 or 403 otherwise.
func (s *Server) admin(w http.ResponseWriter, r *http.Request) (string, bool) {
	who, ok := actor(w, r)
	if !ok {
		return "", false
	}
	if !s.admins[who] {
		writeMessage(w, http.StatusForbidden, who+" is not a hall administrator")
		return "", false
	}
	return who, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
