package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/agent"
	"github.com/dayuer/askrelay/internal/bus"
	"github.com/dayuer/askrelay/internal/rag"
	"github.com/dayuer/askrelay/internal/roster"
	"github.com/dayuer/askrelay/internal/session"
	"github.com/dayuer/askrelay/internal/utils"
)

const maxUploadBytes = 32 << 20

func (s *Server) handleGetProfile(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Admin.Current().Profile)
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var p roster.Profile
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.cfg.Admin.SaveProfile(p); err != nil {
		s.log.Error("save supervisor profile", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("supervisor profile saved", zap.String("name", p.Name))
	writeMessage(w, "Supervisor profile saved and reloaded.")
}

func (s *Server) handleGetAssistants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Admin.Current().Roster.Assistants)
}

func (s *Server) handleSaveAssistants(w http.ResponseWriter, r *http.Request) {
	var body roster.Roster
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.Assistants == nil {
		body.Assistants = []roster.AgentSpec{}
	}
	if err := body.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Admin.SaveRoster(body); err != nil {
		s.log.Error("save assistants config", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("assistants config saved", zap.Int("assistants", len(body.Assistants)))
	writeMessage(w, "Assistants configuration saved and reloaded.")
}

// handleUpload stores a knowledge-base document and ingests it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file name provided.")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if header.Filename == "" || name == "." || name == string(filepath.Separator) {
		writeError(w, http.StatusBadRequest, "No file name provided.")
		return
	}
	if !rag.Ingestible(name) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Could not process file: %s.", name))
		return
	}

	dir, err := utils.EnsureDir(s.cfg.KnowledgeDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to process file: %v", err))
		return
	}
	dest := filepath.Join(dir, utils.SafeFilename(name))
	if err := saveUpload(dest, file); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to process file: %v", err))
		return
	}

	n, err := s.cfg.Ingester.IngestFile(r.Context(), dest)
	if err != nil {
		s.log.Error("ingest upload", zap.String("file", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to process file: %v", err))
		return
	}
	s.log.Info("document ingested", zap.String("file", name), zap.Int("chunks", n))
	writeMessage(w, fmt.Sprintf("Successfully ingested '%s'. %d chunks added.", name, n))
}

func saveUpload(dest string, src io.Reader) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	if s.cfg.QueryLog == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.cfg.QueryLog.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTranscripts(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Transcripts == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	list, err := s.cfg.Transcripts.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []session.TranscriptInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

// transcriptResponse adds the turns, which the stored metadata omits.
type transcriptResponse struct {
	*session.Transcript
	Turns []agent.Turn `json:"turns"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Transcripts == nil {
		writeError(w, http.StatusNotFound, "transcripts are not configured")
		return
	}
	id := chi.URLParam(r, "id")
	t, err := s.cfg.Transcripts.Load(id)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "transcript "+id+" not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	turns := t.Turns
	if turns == nil {
		turns = []agent.Turn{}
	}
	writeJSON(w, http.StatusOK, transcriptResponse{Transcript: t, Turns: turns})
}

// statusResponse is the body of /api/status.
type statusResponse struct {
	Uptime        string            `json:"uptime"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Requests      int64             `json:"requests"`
	Escalations   int64             `json:"escalations"`
	ActiveRelays  int64             `json:"activeRelays"`
	AskLatencyMs  int64             `json:"askLatencyMs"` // mean over the last minute
	AskLastMinute int64             `json:"askLastMinute"`
	QueriesLogged int               `json:"queriesLogged"`
	Assistants    int               `json:"assistants"`
	Supervisor    string            `json:"supervisor"`
	Launcher      session.Stats     `json:"launcher"`
	Pairs         int               `json:"pairs"`
	Sessions      []bus.SessionInfo `json:"sessions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	up := time.Since(s.startTime)
	snap := s.cfg.Admin.Current()
	avg, n := s.askLatency.Avg()
	resp := statusResponse{
		Uptime:        up.Truncate(time.Second).String(),
		UptimeSeconds: int64(up.Seconds()),
		Requests:      s.totalRequests.Load(),
		Escalations:   s.escalations.Load(),
		ActiveRelays:  s.activeRelays.Load(),
		AskLatencyMs:  avg,
		AskLastMinute: n,
		Assistants:    len(snap.Roster.Assistants),
		Supervisor:    snap.Profile.Name,
		Sessions:      []bus.SessionInfo{},
	}
	if s.cfg.Launcher != nil {
		resp.Launcher = s.cfg.Launcher.Stats()
	}
	if s.cfg.Hub != nil {
		resp.Pairs = s.cfg.Hub.Len()
		resp.Sessions = s.cfg.Hub.Sessions()
	}
	if s.cfg.QueryLog != nil {
		n, err := s.cfg.QueryLog.Count(r.Context())
		if err != nil {
			s.log.Warn("count queries", zap.Error(err))
		}
		resp.QueriesLogged = n
	}
	writeJSON(w, http.StatusOK, resp)
}
