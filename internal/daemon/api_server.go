package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"flowscribe/internal/api"
	"flowscribe/internal/config"
	"flowscribe/internal/events"
	"flowscribe/internal/logging"
	"flowscribe/internal/notifications"
	"flowscribe/internal/session"
	"flowscribe/internal/store"
)

const (
	apiRequestsPerSecond = 100
	apiBurst             = 200
	maxRequestBytes      = 64 << 20
)

type apiServer struct {
	bind    string
	token   string
	logger  *slog.Logger
	daemon  *Daemon
	limiter *rate.Limiter
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		token:   strings.TrimSpace(cfg.Paths.APIToken),
		logger:  logger,
		daemon:  d,
		limiter: rate.NewLimiter(rate.Limit(apiRequestsPerSecond), apiBurst),
	}

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, d.metrics.instrument(pattern, srv.rateLimit(authMiddleware(srv.token, h))))
	}
	route("/api/status", srv.handleStatus)
	route("/api/sessions", srv.handleSessions)
	route("/api/sessions/detail", srv.handleSessionDetail)
	route("/api/sessions/prune", srv.handlePrune)
	route("/api/session", srv.handleCurrent)
	route("/api/session/activate", srv.handleActivate)
	route("/api/session/references", srv.handleReferences)
	route("/api/session/segments", srv.handleSegments)
	route("/api/session/speakers", srv.handleRawList(func(st *store.Store, v []json.RawMessage) error { return st.CommitSpeakers(v) }))
	route("/api/session/tags", srv.handleRawList(func(st *store.Store, v []json.RawMessage) error { return st.CommitTags(v) }))
	route("/api/session/chapters", srv.handleRawList(func(st *store.Store, v []json.RawMessage) error { return st.CommitChapters(v) }))
	route("/api/session/select", srv.handleSelect)
	route("/api/session/time", srv.handleTime)
	route("/api/session/undo", srv.handleStep((*store.Store).Undo))
	route("/api/session/redo", srv.handleStep((*store.Store).Redo))
	route("/api/session/revisions", srv.handleRevisions)
	route("/api/session/audio", srv.handleAudio)
	route("/api/global", srv.handleGlobal)
	route("/api/flush", srv.handleFlush)
	route("/api/notifications/test", srv.handleTestNotification)
	route("/metrics", d.metrics.handler().ServeHTTP)
	// Hijacked connections bypass the request metrics.
	mux.HandleFunc("/api/events", srv.rateLimit(authMiddleware(srv.token, srv.handleEvents)))

	srv.handler = mux
	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.log().Info("api server disabled; no bind address configured")
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.log().Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.token != ""))
	return nil
}

func (s *apiServer) stop() {
	s.shutdown()
}

func (s *apiServer) shutdown() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	_ = listener.Close()
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) rateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet, http.MethodDelete) {
		return
	}
	st := s.daemon.store
	if r.Method == http.MethodDelete {
		key, ok := s.queryKey(w, r)
		if !ok {
			return
		}
		if err := st.DeleteSession(key); err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.changed()
		s.writeJSON(w, http.StatusNoContent, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionListResponse{
		Sessions: api.FromSummaries(st.UpdateRecentSessions()),
	})
}

func (s *apiServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	key, ok := s.queryKey(w, r)
	if !ok {
		return
	}
	sess, err := s.daemon.store.Session(key)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionDetailResponse{Key: string(key), Session: sess})
}

func (s *apiServer) handlePrune(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	removed := s.daemon.store.PruneGhosts()
	keys := make([]string, 0, len(removed))
	for _, key := range removed {
		keys = append(keys, string(key))
	}
	if len(keys) > 0 {
		s.changed()
		s.daemon.publish(notifications.EventSessionsPruned, notifications.Payload{"count": len(keys)})
	}
	s.writeJSON(w, http.StatusOK, api.PruneResponse{Removed: keys})
}

func (s *apiServer) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	s.writeCurrent(w)
}

func (s *apiServer) handleActivate(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var req api.ActivateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.daemon.store.SetActiveSessionKey(session.Key(req.Key)); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.changed()
	s.writeCurrent(w)
}

func (s *apiServer) handleReferences(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var req api.ReferencesRequest
	if !s.decode(w, r, &req) {
		return
	}
	audio, err := decodeReference(req.Audio)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid audio reference: "+err.Error())
		return
	}
	transcript, err := decodeReference(req.Transcript)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid transcript reference: "+err.Error())
		return
	}

	st := s.daemon.store
	var key session.Key
	switch {
	case req.Audio != nil && req.Transcript != nil:
		key = st.SetReferences(audio, transcript)
	case req.Audio != nil:
		key = st.SetAudioReference(audio)
	case req.Transcript != nil:
		key = st.SetTranscriptReference(transcript)
	default:
		s.writeError(w, http.StatusBadRequest, "audio or transcript reference required")
		return
	}
	s.changed()
	s.writeJSON(w, http.StatusOK, api.ReferencesResponse{Key: string(key)})
}

// decodeReference maps an explicit JSON null to a nil reference.
func decodeReference(raw json.RawMessage) (*session.FileReference, error) {
	if raw == nil || string(raw) == "null" {
		return nil, nil
	}
	var ref session.FileReference
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ref.Name) == "" {
		return nil, errors.New("name is required")
	}
	return &ref, nil
}

func (s *apiServer) handleSegments(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPut) {
		return
	}
	var segments []session.Segment
	if !s.decode(w, r, &segments) {
		return
	}
	s.commit(w, s.daemon.store.CommitSegments(segments))
}

func (s *apiServer) handleRawList(apply func(*store.Store, []json.RawMessage) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(w, r, http.MethodPut) {
			return
		}
		var values []json.RawMessage
		if !s.decode(w, r, &values) {
			return
		}
		s.commit(w, apply(s.daemon.store, values))
	}
}

func (s *apiServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var req api.SelectRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.commit(w, s.daemon.store.SelectSegment(req.SegmentID))
}

func (s *apiServer) handleTime(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var req api.TimeRequest
	if !s.decode(w, r, &req) {
		return
	}
	// Playback ticks are frequent; other editors do not need to refresh.
	if err := s.daemon.store.SetCurrentTime(req.CurrentTime); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *apiServer) handleStep(move func(*store.Store) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(w, r, http.MethodPost) {
			return
		}
		changed, err := move(s.daemon.store)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		resp := api.StepResponse{Changed: changed}
		if view, ok := s.daemon.store.CurrentSession(); ok {
			resp.Session = api.FromView(view)
		}
		if changed {
			s.changed()
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *apiServer) handleRevisions(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var req api.RevisionRequest
	if !s.decode(w, r, &req) {
		return
	}
	key, err := s.daemon.store.CreateRevision(req.Label)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.changed()
	s.writeJSON(w, http.StatusCreated, api.RevisionResponse{Key: string(key)})
}

func (s *apiServer) handleAudio(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost, http.MethodDelete) {
		return
	}
	st := s.daemon.store
	if r.Method == http.MethodDelete {
		st.UnloadAudio()
		s.writeJSON(w, http.StatusNoContent, nil)
		return
	}
	var req api.AudioRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Ref == nil {
		s.writeError(w, http.StatusBadRequest, "audio reference required")
		return
	}
	st.LoadAudio(req.Ref)
	s.writeCurrent(w)
}

func (s *apiServer) handleGlobal(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	st := s.daemon.store
	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(st.Global())
		return
	}
	var raw json.RawMessage
	if !s.decode(w, r, &raw) {
		return
	}
	if err := st.SetGlobal(raw); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.changed()
	s.writeJSON(w, http.StatusNoContent, nil)
}

// handleFlush serves the editor's page-unload beacon. The request body, if
// any, is ignored; the latest in-memory state is written synchronously.
func (s *apiServer) handleFlush(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	ok := s.daemon.store.Flush()
	if !ok {
		logging.WarnWithContext(s.log(), "flush request could not persist state", "api_flush_failed",
			logging.String(logging.FieldErrorHint, "check the storage quota and data directory"),
			logging.String(logging.FieldImpact, "unsaved edits remain in memory only"))
	}
	s.writeJSON(w, http.StatusOK, api.FlushResponse{Flushed: ok})
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	if err := s.daemon.TestNotification(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("send notification: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, api.NotifyResponse{Sent: s.daemon.cfg.Notifications.NtfyTopic != ""})
}

func (s *apiServer) commit(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.changed()
	s.writeCurrent(w)
}

func (s *apiServer) changed() {
	s.daemon.bus.Dispatch(events.SessionChanged)
}

func (s *apiServer) writeCurrent(w http.ResponseWriter) {
	var resp api.SessionResponse
	if view, ok := s.daemon.store.CurrentSession(); ok {
		resp.Session = api.FromView(view)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func (s *apiServer) queryKey(w http.ResponseWriter, r *http.Request) (session.Key, bool) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "key query parameter required")
		return "", false
	}
	return session.Key(key), true
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *apiServer) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrSegmentNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrNoActiveSession), errors.Is(err, store.ErrRevisionReadOnly):
		s.writeError(w, http.StatusConflict, err.Error())
	case store.IsUserError(err):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log().Error("store operation failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
