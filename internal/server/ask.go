package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/bus"
	"github.com/dayuer/askrelay/internal/querylog"
	"github.com/dayuer/askrelay/internal/router"
	"github.com/dayuer/askrelay/internal/session"
)

// DecisionConflict is logged for an escalation refused because the
// session key is still running.
const DecisionConflict = "conflict"

// askRequest is the JSON body for /api/ask.
type askRequest struct {
	Query     string `json:"query"`
	Lang      string `json:"lang"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Lang == "" {
		req.Lang = "en"
	}
	key := strings.TrimSpace(req.SessionID)
	if key == "" {
		key = bus.DefaultSessionKey
	}
	s.totalRequests.Add(1)
	started := time.Now()
	defer func() { s.askLatency.Record(time.Since(started)) }()
	log := s.log.With(zap.String("session", key), zap.String("request_id", requestID(r)))

	snap := s.cfg.Admin.Current()
	res, err := s.cfg.Router.Route(r.Context(), router.Request{
		Query:  req.Query,
		Lang:   req.Lang,
		Roster: snap.Roster,
	})
	if err != nil {
		log.Error("routing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entry := querylog.Entry{
		Query:    req.Query,
		Lang:     req.Lang,
		Decision: string(res.Decision),
	}

	if res.Escalated() {
		pair, err := s.cfg.Hub.Open(key)
		if err != nil {
			if errors.Is(err, bus.ErrSessionActive) {
				entry.Decision = DecisionConflict
				entry.SessionKey = key
				s.logQuery(entry)
				writeError(w, http.StatusConflict, "session "+key+" is already running")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		err = s.cfg.Launcher.Launch(pair, session.LaunchRequest{
			Prompt:            req.Query,
			SupervisorName:    snap.Profile.Name,
			SupervisorMessage: snap.Profile.SupervisorSystemMessage,
			SupervisorModel:   snap.Profile.Model,
			Roster:            snap.Roster,
			MaxTurns:          s.cfg.MaxTurns,
		})
		if err != nil {
			s.cfg.Hub.Release(pair)
			log.Warn("interactive session not launched", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.escalations.Add(1)
		log.Info("interactive session launched", zap.String("run", pair.ID))

		signal, _ := json.Marshal(res.Payload)
		entry.Answer = string(signal)
		entry.SessionKey = key
	} else {
		entry.Answer = res.Baseline.Text
	}

	s.logQuery(entry)
	writeJSON(w, http.StatusOK, res.Payload)
}

// logQuery appends in the background; failures are logged only.
func (s *Server) logQuery(e querylog.Entry) {
	if s.cfg.QueryLog == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.cfg.QueryLog.Append(ctx, e); err != nil {
			s.log.Warn("query log append failed", zap.Error(err))
		}
	}()
}

func requestID(r *http.Request) string {
	return chimw.GetReqID(r.Context())
}
