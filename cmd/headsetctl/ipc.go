package main

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Envelope is the daemon's IPC wire format: one JSON object per line.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type candidateData struct {
	Source string `json:"source"`
}

type noteData struct {
	Message string `json:"message"`
}

// IPCResponse is the daemon's reply to one envelope.
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func newEnvelope(typ string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return Envelope{Type: typ, Data: raw}, nil
}

// ipcTimeout bounds the whole request/response exchange.
const ipcTimeout = 5 * time.Second

// SendIPCEvent sends env to the daemon listening on socketPath and waits for its
// reply. A reply with status "error" is returned as an error.
func SendIPCEvent(socketPath string, env Envelope) error {
	conn, err := net.DialTimeout("unix", socketPath, ipcTimeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ipcTimeout))

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}
	return nil
}
