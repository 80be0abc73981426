package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/askrelay/internal/bus"
	"github.com/dayuer/askrelay/internal/config"
	"github.com/dayuer/askrelay/internal/session"
)

var statusServer string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show askrelay configuration and live server status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "", "server URL (default from config)")
	rootCmd.AddCommand(statusCmd)
}

// serverStatus mirrors the /api/status body.
type serverStatus struct {
	Uptime       string            `json:"uptime"`
	Requests     int64             `json:"requests"`
	Escalations  int64             `json:"escalations"`
	ActiveRelays int64             `json:"activeRelays"`
	AskLatencyMs int64             `json:"askLatencyMs"`
	AskLastMin   int64             `json:"askLastMinute"`
	QueriesTotal int               `json:"queriesLogged"`
	Assistants   int               `json:"assistants"`
	Supervisor   string            `json:"supervisor"`
	Launcher     session.Stats     `json:"launcher"`
	Sessions     []bus.SessionInfo `json:"sessions"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}

	fmt.Println("askrelay status")
	fmt.Println()
	fmt.Printf("Config: %s\n", path)
	fmt.Printf("Model: %s via %s (router: %s)\n", cfg.LLM.Model, providerLabel(cfg.LLM), cfg.Router.Model)
	fmt.Printf("Roster: %s\n", cfg.Admin.RosterPath)
	fmt.Printf("Knowledge base: %s (collection %q at %s)\n", cfg.RAG.KnowledgeDir, cfg.RAG.Collection, cfg.RAG.ChromaURL)
	if cfg.Redis.URL != "" {
		fmt.Println("Redis: configured")
	}

	base := serverURL(cfg, statusServer)
	st, err := fetchStatus(cmd, base, cfg.Server.APIKey)
	if err != nil {
		fmt.Printf("\nServer: not reachable at %s (%v)\n", base, err)
		return nil
	}

	fmt.Printf("\nServer: %s (up %s)\n", base, st.Uptime)
	fmt.Printf("  Requests: %d, escalations: %d\n", st.Requests, st.Escalations)
	fmt.Printf("  Last minute: %d asks, avg %dms\n", st.AskLastMin, st.AskLatencyMs)
	fmt.Printf("  Query log: %d entries\n", st.QueriesTotal)
	fmt.Printf("  Supervisor: %s, assistants: %d\n", st.Supervisor, st.Assistants)
	fmt.Printf("  Workers: %d, active: %d, launched: %d, failed: %d\n",
		st.Launcher.Workers, st.Launcher.Active, st.Launcher.Launched, st.Launcher.Failed)
	fmt.Printf("  Relays: %d\n", st.ActiveRelays)
	for _, s := range st.Sessions {
		state := "running"
		if s.Finished {
			state = "finished"
		}
		fmt.Printf("    %s  %s  attached=%t  pending in/out=%d/%d\n", s.Key, state, s.Attached, s.Inbound, s.Outbound)
	}
	return nil
}

func fetchStatus(cmd *cobra.Command, base, apiKey string) (*serverStatus, error) {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, base+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	authorize(req, apiKey)
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var st serverStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}
