// Package web serves the calibration page, status JSON, the annotated video
// stream and the config endpoints.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sweeney/trimmer-monitor/internal/calibration"
	"github.com/sweeney/trimmer-monitor/internal/status"
)

// DefaultFrameInterval paces the MJPEG stream at about 30 fps.
const DefaultFrameInterval = 33 * time.Millisecond

// maxBody bounds config request bodies.
const maxBody = 4 << 10

// Options configures a Server.
type Options struct {
	Addr        string
	Tracker     *status.Tracker
	Calibration *calibration.Service
	Events      *status.EventLog
	Logger      *slog.Logger

	// FrameInterval is the minimum gap between stream frames.
	FrameInterval time.Duration
}

// Server serves the monitor UI over HTTP.
type Server struct {
	httpServer    *http.Server
	tracker       *status.Tracker
	calib         *calibration.Service
	events        *status.EventLog
	log           *slog.Logger
	frameInterval time.Duration

	// done is closed when Shutdown starts so open streams end.
	done chan struct{}
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	if opts.Events == nil {
		opts.Events = status.NewEventLog(0)
	}
	s := &Server{
		tracker:       opts.Tracker,
		calib:         opts.Calibration,
		events:        opts.Events,
		log:           opts.Logger,
		frameInterval: opts.FrameInterval,
		done:          make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /index.json", s.handleStatus)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /snapshot.jpg", s.handleSnapshot)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("POST /config/region", s.handleRegion)
	mux.HandleFunc("POST /config/threshold", s.handleThreshold)
	mux.HandleFunc("POST /config/min_area", s.handleMinArea)
	mux.HandleFunc("POST /config/save", s.handleSave)
	mux.HandleFunc("POST /config/reload", s.handleReload)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.httpServer.RegisterOnShutdown(func() { close(s.done) })
	return s
}

// Handler returns the request router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown ends open streams and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, pageData{
		Snapshot: snap,
		Config:   s.calib.Config(),
		Events:   s.events.Recent(),
	}); err != nil {
		s.log.Warn("render index failed", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	if len(snap.JPEG) == 0 {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(snap.JPEG)
}

// handleStream writes every published frame as a multipart JPEG stream,
// at most one per frame interval. Slow clients skip frames.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")

	pace := time.NewTicker(s.frameInterval)
	defer pace.Stop()

	ctx := r.Context()
	var lastSeq uint64
	for {
		changed := s.tracker.Changed()
		snap := s.tracker.Snapshot()
		if snap.Seq != lastSeq && len(snap.JPEG) > 0 {
			if err := writePart(w, snap.JPEG); err != nil {
				return
			}
			flusher.Flush()
			lastSeq = snap.Seq
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-changed:
		}
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-pace.C:
		}
	}
}

const boundary = "frame"

func writePart(w http.ResponseWriter, jpg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpg)); err != nil {
		return err
	}
	if _, err := w.Write(jpg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, eventsResponse(s.events.Recent()))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.calib.Config())
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	var req regionRequest
	if !decode(w, r, &req) {
		return
	}
	s.reply(w, s.calib.SetRegion(req.region()), http.StatusBadRequest)
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !decode(w, r, &req) {
		return
	}
	s.reply(w, s.calib.SetThreshold(*req.Value), http.StatusBadRequest)
}

func (s *Server) handleMinArea(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !decode(w, r, &req) {
		return
	}
	s.reply(w, s.calib.SetMinArea(*req.Value), http.StatusBadRequest)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	s.reply(w, s.calib.Save(r.Context()), http.StatusBadGateway)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	_, err := s.calib.Reload(r.Context())
	s.reply(w, err, http.StatusBadGateway)
}

// reply writes the result of a config change; failures use failCode.
func (s *Server) reply(w http.ResponseWriter, err error, failCode int) {
	if err != nil {
		writeJSON(w, failCode, configResponse{OK: false, Error: err.Error()})
		return
	}
	cfg := s.calib.Config()
	writeJSON(w, http.StatusOK, configResponse{OK: true, Config: &cfg})
}
