package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

// IPC protocol: line-delimited JSON over a Unix domain socket.
//
//	client: {"type": "edit", "data": {"magnitude": 3}}
//	server: {"status": "ok"} or {"status": "error", "error": "..."}
//
// A "status" request is answered with the current StateSnapshot in "data".

// IPCResponse is written back for every request line.
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// runIPCServer serves the socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Peer credentials are checked per connection where supported
	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}
		go handleIPCConnection(ctx, conn, events, logger)
	}
}

func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	if err := checkPeer(conn); err != nil {
		logger.Warn("IPC connection rejected", "error", err)
		_ = json.NewEncoder(conn).Encode(IPCResponse{Status: "error", Error: "permission denied"})
		return
	}

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		logger.Debug("IPC received", "line", string(line))

		resp := dispatchIPC(ctx, line, events)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
	logger.Debug("IPC connection closed")
}

// dispatchIPC parses one request line and hands the event to the loop.
func dispatchIPC(ctx context.Context, line []byte, events chan<- Event) IPCResponse {
	ev, err := UnmarshalEvent(line)
	if err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)}
	}

	if _, ok := ev.(RequestStatus); ok {
		snap, err := requestSnapshot(ctx, events, statusReplyTimeout)
		if err != nil {
			return IPCResponse{Status: "error", Error: err.Error()}
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return IPCResponse{Status: "error", Error: fmt.Sprintf("marshal status: %v", err)}
		}
		return IPCResponse{Status: "ok", Data: data}
	}

	// A busy loop gets a short grace before the request is refused
	t := time.NewTimer(eventEnqueueTimeout)
	defer t.Stop()
	select {
	case events <- ev:
		return IPCResponse{Status: "ok"}
	case <-ctx.Done():
		return IPCResponse{Status: "error", Error: "daemon shutting down"}
	case <-t.C:
		return IPCResponse{Status: "error", Error: "event queue full"}
	}
}

// requestSnapshot asks the daemon loop for its state and waits for the reply.
func requestSnapshot(ctx context.Context, events chan<- Event, timeout time.Duration) (StateSnapshot, error) {
	reply := make(chan StateSnapshot, 1)
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case events <- RequestStatus{Reply: reply}:
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case <-t.C:
		return StateSnapshot{}, errors.New("status request timed out")
	}

	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case <-t.C:
		return StateSnapshot{}, errors.New("status request timed out")
	}
}
