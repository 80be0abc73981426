package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/dayuer/askrelay/internal/config"
	"github.com/dayuer/askrelay/internal/roster"
	"github.com/dayuer/askrelay/internal/utils"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize askrelay configuration, supervisor profile and assistants roster",
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

func runOnboard(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}

	if exists(path) {
		fmt.Printf("Config already exists at %s\n", path)
	} else {
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return fmt.Errorf("creating config: %w", err)
		}
		fmt.Printf("✓ Created config at %s\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if !exists(cfg.Admin.ProfilePath) {
		if err := roster.SaveProfile(cfg.Admin.ProfilePath, roster.DefaultProfile()); err != nil {
			return fmt.Errorf("creating supervisor profile: %w", err)
		}
		fmt.Printf("  Created %s\n", cfg.Admin.ProfilePath)
	}
	if !exists(cfg.Admin.RosterPath) {
		if err := roster.SaveRoster(cfg.Admin.RosterPath, roster.Roster{Assistants: []roster.AgentSpec{}}); err != nil {
			return fmt.Errorf("creating assistants roster: %w", err)
		}
		fmt.Printf("  Created %s\n", cfg.Admin.RosterPath)
	}

	for _, dir := range []string{cfg.RAG.KnowledgeDir, cfg.Store.TranscriptsDir} {
		if _, err := utils.EnsureDir(dir); err != nil {
			return err
		}
	}
	fmt.Printf("✓ Knowledge base at %s\n", cfg.RAG.KnowledgeDir)

	fmt.Println("\naskrelay is ready!")
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Add your API key to %s (or set OPENAI_API_KEY)\n", path)
	fmt.Println("  2. Put .md/.txt/.json documents in the knowledge base and run: askrelay serve --ingest")
	fmt.Println("  3. Add assistants to the roster to enable interactive sessions")
	fmt.Println("  4. Ask: askrelay ask -q \"What is ISPG?\"")
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
