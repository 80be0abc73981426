// daemon.go: background process management for askrelay serve.
//
// Usage:
//
//	askrelay serve           run in the foreground
//	askrelay serve start     start in the background, logging to ~/.askrelay/askrelay.log
//	askrelay serve stop      send SIGTERM and wait for sessions to drain
//	askrelay serve reload    send SIGHUP (config, provider, profile and roster)
//
// Sessions live in process memory, so there is only ever one server
// process per data directory.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/askrelay/internal/utils"
)

const (
	pidFileName = "askrelay.pid"
	logFileName = "askrelay.log"
)

func init() {
	serveCmd.AddCommand(startCmd)
	serveCmd.AddCommand(stopCmd)
	serveCmd.AddCommand(reloadCmd)
}

// --- PID file helpers ---

func pidFilePath() string {
	return filepath.Join(utils.DataPath(), pidFileName)
}

func writePID(pid int) error {
	if _, err := utils.EnsureDir(utils.DataPath()); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0o644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", pidFilePath(), err)
	}
	return pid, nil
}

func removePID() {
	_ = os.Remove(pidFilePath())
}

// isRunning checks if a process with the given PID is alive.
func isRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// runningPID returns the live server PID, cleaning up a stale file.
func runningPID() (int, bool) {
	pid, err := readPID()
	if err != nil {
		return 0, false
	}
	if !isRunning(pid) {
		removePID()
		return 0, false
	}
	return pid, true
}

func signalServer(sig syscall.Signal) (int, error) {
	pid, ok := runningPID()
	if !ok {
		return 0, errors.New("askrelay server is not running")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, err
	}
	return pid, proc.Signal(sig)
}

// --- Subcommands ---

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start askrelay serve as a background process",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if pid, ok := runningPID(); ok {
			return fmt.Errorf("askrelay server is already running (PID %d)", pid)
		}
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("cannot find executable: %w", err)
		}

		args := []string{"serve"}
		if configPath != "" {
			args = append(args, "--config", configPath)
		}
		if servePort != 0 {
			args = append(args, "--port", strconv.Itoa(servePort))
		}
		if serveIngest {
			args = append(args, "--ingest")
		}

		dir, err := utils.EnsureDir(utils.DataPath())
		if err != nil {
			return err
		}
		logFile := filepath.Join(dir, logFileName)
		out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("cannot open log file: %w", err)
		}
		defer out.Close()

		proc := exec.Command(exe, args...)
		proc.Stdout = out
		proc.Stderr = out
		proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		proc.Env = os.Environ()
		if err := proc.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		pid := proc.Process.Pid
		_ = proc.Process.Release()

		fmt.Printf("askrelay started (PID %d)\n", pid)
		fmt.Printf("  Log: %s\n", logFile)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background askrelay server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pid, err := signalServer(syscall.SIGTERM)
		if err != nil {
			return err
		}
		fmt.Printf("Stopping askrelay (PID %d)...\n", pid)

		// Sessions get sessionDrainTimeout before they are cancelled.
		deadline := time.Now().Add(sessionDrainTimeout + 10*time.Second)
		for time.Now().Before(deadline) {
			if !isRunning(pid) {
				removePID()
				fmt.Println("askrelay stopped")
				return nil
			}
			time.Sleep(500 * time.Millisecond)
		}
		if proc, err := os.FindProcess(pid); err == nil {
			_ = proc.Signal(syscall.SIGKILL)
		}
		removePID()
		fmt.Println("askrelay killed after timeout")
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload config, provider, supervisor profile and assistants (SIGHUP)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pid, err := signalServer(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Printf("Reload signal sent (PID %d)\n", pid)
		return nil
	},
}
