// Package api serves the record catalog over HTTP: JSON listings of records
// and frames, and the HTML report of any indexed record.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/banshee-data/fusion.record/internal/catalog"
	"github.com/banshee-data/fusion.record/internal/config"
	"github.com/banshee-data/fusion.record/internal/fsutil"
	"github.com/banshee-data/fusion.record/internal/httputil"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/record"
	"github.com/banshee-data/fusion.record/internal/report"
	"github.com/banshee-data/fusion.record/internal/security"
	"github.com/banshee-data/fusion.record/internal/version"
)

type Server struct {
	cat     *catalog.Catalog
	fs      fsutil.FileSystem
	display config.DisplayConfig
	log     *slog.Logger

	// ReportOptions is passed to every rendered report.
	ReportOptions report.Options
}

// NewServer returns a server reading records through fs. A nil logger uses
// slog.Default.
func NewServer(cat *catalog.Catalog, fs fsutil.FileSystem, display config.DisplayConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{cat: cat, fs: fs, display: display, log: log.With("component", "api")}
}

// Time is a timestamp as both raw nanoseconds and display text.
type Time struct {
	Ns   int64  `json:"ns"`
	Text string `json:"text"`
}

func (s *Server) time(ts payload.Timestamp) Time {
	return Time{Ns: int64(ts), Text: s.display.FormatTimestamp(ts)}
}

type Record struct {
	RecordID      string   `json:"record_id"`
	Path          string   `json:"path"`
	SizeBytes     int64    `json:"size_bytes"`
	FrameCount    int      `json:"frame_count"`
	FormatVersion uint32   `json:"format_version"`
	Created       Time     `json:"created"`
	Start         *Time    `json:"start,omitempty"`
	End           *Time    `json:"end,omitempty"`
	HeaderSHA256  string   `json:"header_sha256"`
	Slots         []string `json:"slots,omitempty"`
}

type Frame struct {
	RecordID    string `json:"record_id"`
	FrameIndex  int    `json:"frame_index"`
	FrameID     uint64 `json:"frame_id"`
	Timestamp   Time   `json:"timestamp"`
	Version     uint32 `json:"version"`
	LengthBytes int    `json:"length_bytes"`
}

func (s *Server) record(e catalog.RecordEntry) Record {
	out := Record{
		RecordID:      e.RecordID,
		Path:          e.Path,
		SizeBytes:     e.SizeBytes,
		FrameCount:    e.FrameCount,
		FormatVersion: e.FormatVersion,
		Created:       s.time(payload.Timestamp(e.CreatedNs)),
		HeaderSHA256:  e.HeaderSHA256,
	}
	if e.FrameCount > 0 {
		start, end := s.time(e.Start), s.time(e.End)
		out.Start, out.End = &start, &end
	}
	return out
}

func (s *Server) frames(entries []catalog.FrameEntry) []Frame {
	out := make([]Frame, len(entries))
	for i, e := range entries {
		out[i] = Frame{
			RecordID:    e.RecordID,
			FrameIndex:  e.FrameIndex,
			FrameID:     e.FrameID,
			Timestamp:   s.time(e.Timestamp),
			Version:     e.Version,
			LengthBytes: e.LengthBytes,
		}
	}
	return out
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status and duration of each request.
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		s.log.Info("http request",
			"method", r.Method,
			"uri", r.RequestURI,
			"status", lrw.statusCode,
			"duration_ms", float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /api/records", s.listRecords)
	mux.HandleFunc("GET /api/records/{id}", s.showRecord)
	mux.HandleFunc("GET /api/records/{id}/frames", s.listRecordFrames)
	mux.HandleFunc("GET /api/frames", s.listFrames)
	mux.HandleFunc("GET /report/{id}", s.showReport)
	return mux
}

// Handler is ServeMux wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return s.LoggingMiddleware(s.ServeMux())
}

// writeError maps catalog misses to 404 and everything else to 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	s.log.Error("request failed", "uri", r.RequestURI, "error", err)
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok", "version": version.String()})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cat.Records(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = s.record(e)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) showRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, err := s.cat.Record(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := s.record(e)
	if out.Slots, err = s.cat.Slots(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listRecordFrames(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.cat.Record(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.cat.Frames(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOK(w, s.frames(entries))
}

func parseTs(q, name string) (payload.Timestamp, error) {
	ts, err := payload.ParseTimestamp(q)
	if err != nil {
		return 0, fmt.Errorf("invalid '%s' parameter: %w", name, err)
	}
	return ts, nil
}

// listFrames answers ?at=<ts> with the first frame at or after ts, and
// ?from=<ts>&to=<ts> with every frame in the closed range.
func (s *Server) listFrames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if at := q.Get("at"); at != "" {
		ts, err := parseTs(at, "at")
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		e, err := s.cat.FrameAt(r.Context(), ts)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		httputil.WriteJSONOK(w, s.frames([]catalog.FrameEntry{e})[0])
		return
	}

	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		httputil.BadRequest(w, "give either 'at' or both 'from' and 'to'")
		return
	}
	start, err := parseTs(from, "from")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	end, err := parseTs(to, "to")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if end < start {
		httputil.BadRequest(w, "'to' is before 'from'")
		return
	}
	entries, err := s.cat.FramesBetween(r.Context(), start, end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSONOK(w, s.frames(entries))
}

// showReport renders the echarts report of an indexed record. ?download=1
// serves it as an attachment.
func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, err := s.cat.Record(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := record.Open(s.fs, e.Path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := report.Summarize(rec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, sum, s.ReportOptions); err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("download") != "" {
		name := "report-" + security.SanitizeFilename(id) + ".html"
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	httputil.WriteHTML(w, http.StatusOK, buf.Bytes())
}
