package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// codeflow-watch connects to the daemon's /ws/state endpoint and prints
// state changes as they arrive.

const (
	handshakeTimeout = 5 * time.Second
	readWait         = 60 * time.Second
	writeWait        = 5 * time.Second
)

type frame struct {
	Type string `json:"type"`
	Data struct {
		State  string  `json:"state"`
		Speed  float64 `json:"speed"`
		Volume int     `json:"volume"`
		Status struct {
			Text string `json:"text"`
		} `json:"status"`
	} `json:"data"`
}

// printer writes one line per visible change. Speed is compared at one
// decimal, the precision the status text shows.
type printer struct {
	w       io.Writer
	verbose bool
	started bool
	state   string
	speed   float64
	volume  int
}

func (p *printer) handle(msg []byte) error {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	speed := math.Round(f.Data.Speed*10) / 10

	switch f.Type {
	case "state_init":
		p.started = true
		p.state, p.speed, p.volume = f.Data.State, speed, f.Data.Volume
		_, err := fmt.Fprintf(p.w, "[INIT] %s speed=%.1f volume=%d\n", f.Data.State, speed, f.Data.Volume)
		return err
	case "state":
	default:
		if p.verbose {
			_, err := fmt.Fprintf(p.w, "[%s] %s\n", f.Type, msg)
			return err
		}
		return nil
	}

	if p.started && f.Data.State != p.state {
		if _, err := fmt.Fprintf(p.w, "[STATE] %s\n", f.Data.State); err != nil {
			return err
		}
	}
	if !p.started || speed != p.speed || f.Data.Volume != p.volume || p.verbose {
		if _, err := fmt.Fprintf(p.w, "[STATUS] %s\n", f.Data.Status.Text); err != nil {
			return err
		}
	}
	p.started = true
	p.state, p.speed, p.volume = f.Data.State, speed, f.Data.Volume
	return nil
}

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:3002/ws/state", "codeflow state websocket URL")
		verbose = flag.Bool("v", false, "print every frame, not only changes")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watch(ctx, *wsURL, &printer{w: os.Stdout, verbose: *verbose}, logger); err != nil {
		logger.Error("watch failed", "error", err)
		os.Exit(1)
	}
}

// watch reads frames until ctx is canceled or the server goes away.
func watch(ctx context.Context, url string, p *printer, logger *slog.Logger) error {
	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	logger.Info("connecting", "url", url)
	conn, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	// The server pings; answer and keep the read deadline moving
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	done := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					done <- nil
					return
				}
				done <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			if err := p.handle(msg); err != nil {
				logger.Warn("bad frame", "error", err)
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			logger.Warn("close failed", "error", err)
		}
		return nil
	case err := <-done:
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		logger.Info("connection closed by server")
		return nil
	}
}
