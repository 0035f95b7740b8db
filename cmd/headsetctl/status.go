package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// State mirrors GET /api/state.
type State struct {
	LastEventTime *string  `json:"last_event_time"`
	IsSupported   bool     `json:"is_supported"`
	DebugInfo     []string `json:"debug_info"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current detection state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		st, err := fetchState(ctx, http.DefaultClient, apiURL)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		printState(cmd.OutOrStdout(), st)
		return nil
	},
}

func fetchState(ctx context.Context, client *http.Client, base string) (State, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/api/state", nil)
	if err != nil {
		return State{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return State{}, fmt.Errorf("get state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return State{}, fmt.Errorf("get state: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var st State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

func printState(w io.Writer, st State) {
	last := "never"
	if st.LastEventTime != nil {
		last = *st.LastEventTime
	}
	fmt.Fprintf(w, "Last press:         %s\n", last)
	fmt.Fprintf(w, "Transport control:  %s\n", supportedText(st.IsSupported))
	fmt.Fprintln(w, "Debug log:")
	if len(st.DebugInfo) == 0 {
		fmt.Fprintln(w, "  (empty)")
	}
	for _, line := range st.DebugInfo {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func supportedText(ok bool) string {
	if ok {
		return "supported"
	}
	return "not supported"
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream state changes from the websocket feed",
	Long: `Connect to the daemon's /ws feed and print every frame until interrupted.

Examples:
  headsetctl watch
  headsetctl --api http://192.168.1.20:3001 watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return watch(ctx, apiURL, cmd.OutOrStdout())
	},
}

func wsURLFor(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/ws")
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func watch(ctx context.Context, base string, w io.Writer) error {
	target, err := wsURLFor(base)
	if err != nil {
		return err
	}
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", target, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		fmt.Fprintln(w, formatFrame(msg))
	}
}

// formatFrame renders one feed frame as "type: data".
func formatFrame(msg []byte) string {
	var frame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil || frame.Type == "" {
		return string(msg)
	}
	if len(frame.Data) == 0 {
		return frame.Type
	}
	return frame.Type + ": " + string(frame.Data)
}
