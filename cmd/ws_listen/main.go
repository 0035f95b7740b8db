package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// frame is the headsetd state feed envelope.
type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type snapshotData struct {
	LastEventTime *string  `json:"last_event_time"`
	IsSupported   bool     `json:"is_supported"`
	DebugInfo     []string `json:"debug_info"`
	Accepted      uint64   `json:"accepted"`
	Suppressed    uint64   `json:"suppressed"`
}

type pressData struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	EventTime string `json:"event_time"`
}

type debugData struct {
	DebugInfo []string `json:"debug_info"`
}

type supportData struct {
	IsSupported bool `json:"is_supported"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3001/ws", "headsetd state websocket URL")
		raw   = flag.Bool("raw", false, "Print frames verbatim instead of decoding them")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	// The server pings every 20s; answering resets our read deadline too.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	tracker := &feedTracker{}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}

			switch messageType {
			case websocket.TextMessage:
				if *raw {
					fmt.Printf("%s\n", message)
					continue
				}
				tracker.handle(message)
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}

	accepted, suppressed := tracker.totals()
	log.Printf("session totals: %d accepted, %d suppressed", accepted, suppressed)
}

// feedTracker prints feed frames and only the debug lines not seen before.
type feedTracker struct {
	mu         sync.Mutex
	lastDebug  []string
	lastPress  time.Time
	accepted   uint64
	suppressed uint64
}

func (t *feedTracker) handle(message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch f.Type {
	case "state_init":
		var s snapshotData
		if err := json.Unmarshal(f.Data, &s); err != nil {
			fmt.Printf("[STATE] undecodable: %v\n", err)
			return
		}
		last := "never"
		if s.LastEventTime != nil {
			last = *s.LastEventTime
		}
		fmt.Printf("[STATE] last press %s, transport %s, %d accepted / %d suppressed so far\n",
			last, supportedText(s.IsSupported), s.Accepted, s.Suppressed)
		t.printNewDebug(s.DebugInfo)

	case "press_accepted":
		var p pressData
		_ = json.Unmarshal(f.Data, &p)
		t.accepted++
		gap := ""
		if f.Ts != nil {
			if !t.lastPress.IsZero() {
				gap = fmt.Sprintf(" (+%s since previous)", f.Ts.Sub(t.lastPress).Round(time.Millisecond))
			}
			t.lastPress = *f.Ts
		}
		fmt.Printf("[PRESS] %s from %s%s\n", p.EventTime, p.Source, gap)

	case "press_suppressed":
		var p pressData
		_ = json.Unmarshal(f.Data, &p)
		t.suppressed++
		fmt.Printf("[DUPLICATE] from %s\n", p.Source)

	case "support_changed":
		var s supportData
		_ = json.Unmarshal(f.Data, &s)
		fmt.Printf("[SUPPORT] transport %s\n", supportedText(s.IsSupported))

	case "debug_changed":
		var dbg debugData
		_ = json.Unmarshal(f.Data, &dbg)
		t.printNewDebug(dbg.DebugInfo)

	case "HEADPHONE_EVENT_BACKGROUND":
		fmt.Printf("[WORKER] %s\n", string(f.Data))

	default:
		prettyJSON, _ := json.MarshalIndent(f, "", "  ")
		fmt.Printf("[FRAME]\n%s\n\n", string(prettyJSON))
	}
}

// printNewDebug prints the lines of lines that follow the longest suffix of the
// previous log it starts with. A cleared log prints in full.
func (t *feedTracker) printNewDebug(lines []string) {
	skip := overlap(t.lastDebug, lines)
	for _, line := range lines[skip:] {
		fmt.Printf("[DEBUG] %s\n", line)
	}
	t.lastDebug = append(t.lastDebug[:0], lines...)
}

// overlap returns the length of the longest suffix of prev that is a prefix of next.
func overlap(prev, next []string) int {
	for n := min(len(prev), len(next)); n > 0; n-- {
		match := true
		for i := 0; i < n; i++ {
			if prev[len(prev)-n+i] != next[i] {
				match = false
				break
			}
		}
		if match {
			return n
		}
	}
	return 0
}

func (t *feedTracker) totals() (accepted, suppressed uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accepted, t.suppressed
}

func supportedText(ok bool) string {
	if ok {
		return "supported"
	}
	return "not supported"
}
