// Package ingest tracks live stream sessions, coupling each byte-source
// producer with its packet listener, streaming source, and connection
// metrics. It is the rendezvous point between receivers (SRT, file) and
// whatever drives the source's pump.
package ingest

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/tsfeed/source"
)

// Stats is a snapshot of connection-level metrics for one session,
// exposed for monitoring source health.
type Stats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Session is one active stream: the producer writes transport bytes into
// Listener, the pump drives Source. Done is closed on Unregister.
type Session struct {
	Key       string
	StartedAt time.Time
	Listener  *source.Listener
	Source    *source.Source
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the
// receiver after each successful socket read.
func (s *Session) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the producer's remote address for diagnostics.
func (s *Session) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done returns a channel closed when the session is unregistered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Stats returns a snapshot of the session's connection metrics.
func (s *Session) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	return Stats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Registry tracks sessions by stream key and dispatches each new one to
// the onStream callback, which owns pumping the session's source.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	onStream func(*Session)
}

// NewRegistry creates a Registry. The onStream callback is invoked on its
// own goroutine whenever a session is registered; nil disables dispatch.
// If log is nil, slog.Default() is used.
func NewRegistry(onStream func(*Session), log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "ingest"),
		sessions: make(map[string]*Session),
		onStream: onStream,
	}
}

// Register creates a session for key with a fresh listener and source.
// A duplicate key is rejected: one producer per stream.
func (r *Registry) Register(key string) (*Session, error) {
	l := source.NewListener()
	s := &Session{
		Key:       key,
		StartedAt: time.Now(),
		Listener:  l,
		Source:    source.New(l, r.log.With("stream", key)),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	if _, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		r.log.Warn("stream already exists, rejecting duplicate", "key", key)
		return nil, fmt.Errorf("ingest: stream %q already registered", key)
	}
	r.sessions[key] = s
	r.mu.Unlock()

	r.log.Info("stream registered", "key", key)
	if r.onStream != nil {
		go r.onStream(s)
	}
	return s, nil
}

// Unregister removes a session by key, ending its listener's stream
// cleanly and signaling Done. Buffered packets remain drainable.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	if ok {
		s.Listener.CloseWrite(nil)
		close(s.done)
		r.log.Info("stream unregistered", "key", key)
	}
}

// Get returns the session for key, or false if not found.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// List returns all active sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
