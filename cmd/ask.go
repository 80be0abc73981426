package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/dayuer/askrelay/internal/rag"
	"github.com/dayuer/askrelay/internal/router"
	"github.com/dayuer/askrelay/internal/session"
)

var (
	askQuery   string
	askSession string
	askLang    string
	askServer  string
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask a question; joins the interactive session when the router escalates",
	Long: `Ask sends the query to a running askrelay server. Baseline answers are
printed directly. When the query is escalated, ask connects to the
session relay, prints agent messages and sends each line typed on stdin
as your reply until the final answer arrives.`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askQuery, "query", "q", "", "question to ask (required)")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "session id (default \"default\")")
	askCmd.Flags().StringVarP(&askLang, "lang", "l", "en", "answer language")
	askCmd.Flags().StringVar(&askServer, "server", "", "server URL (default from config)")
	_ = askCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	base := serverURL(cfg, askServer)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payload, err := postAsk(ctx, base, askQuery, askLang, askSession)
	if err != nil {
		return err
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}
	if envelope.Type == router.SessionStartType {
		fmt.Println("Starting an interactive session. Type your replies and press Enter.")
		return relayConsole(ctx, base, askSession, os.Stdin, os.Stdout)
	}

	var ans rag.Answer
	if err := json.Unmarshal(payload, &ans); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}
	printAnswer(os.Stdout, ans)
	return nil
}

func postAsk(ctx context.Context, base, query, lang, sessionID string) ([]byte, error) {
	body, _ := json.Marshal(map[string]string{"query": query, "lang": lang, "session_id": sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/ask", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: 2 * time.Minute}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("ask %s: %w", base, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &e) == nil && e.Detail != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Detail)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return data, nil
}

func printAnswer(w io.Writer, a rag.Answer) {
	fmt.Fprintln(w, a.Text)
	if len(a.Citations) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, c := range a.Citations {
			fmt.Fprintf(w, "  - %s\n", c.URL)
		}
	}
	if len(a.FollowUps) > 0 {
		fmt.Fprintln(w, "\nYou could also ask:")
		for _, q := range a.FollowUps {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}
}

// wsURL turns the HTTP base URL into the relay URL for sessionID.
func wsURL(base, sessionID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	if sessionID != "" {
		u.RawQuery = url.Values{"session": {sessionID}}.Encode()
	}
	return u.String(), nil
}

// relayConsole bridges stdin/stdout to the session relay until the server
// closes the connection.
func relayConsole(ctx context.Context, base, sessionID string, in io.Reader, out io.Writer) error {
	target, err := wsURL(base, sessionID)
	if err != nil {
		return err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client interrupt"), time.Now().Add(time.Second))
		conn.Close()
	}()

	// stdin → relay; the only writer besides the interrupt close above.
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		}
	}()

	for {
		var env session.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("session relay: %w", err)
		}
		switch env.Type {
		case session.TypeAgentMessage:
			fmt.Fprintf(out, "[%s] %s\n", env.Sender, env.Text)
		case session.TypeFinalAnswer:
			fmt.Fprintf(out, "\nFinal answer:\n%s\n", env.Text)
		default:
			fmt.Fprintln(out, env.Text)
		}
	}
}
