package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errNoConnection = errors.New("no websocket connection")

// camillaDevice drives the CamillaDSP main fader over its websocket API.
// Percent volumes are mapped to dB between MinDB and MaxDB on a log10
// curve so that the lower half of the range stays usable.
type camillaDevice struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	url    string
	minDB  float64
	maxDB  float64
	logger *slog.Logger

	readTimeout time.Duration
}

func newCamillaDevice(cfg CamillaDSPConfig, readTimeout time.Duration, logger *slog.Logger) *camillaDevice {
	if readTimeout <= 0 {
		readTimeout = camillaReadTimeout
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &camillaDevice{
		url:         cfg.WsURL,
		minDB:       cfg.MinDB,
		maxDB:       cfg.MaxDB,
		logger:      logger,
		readTimeout: readTimeout,
	}
}

func (c *camillaDevice) GetVolume(ctx context.Context) (int, error) {
	resp, err := c.sendAndRead(ctx, "GetVolume")
	if err != nil {
		return 0, fmt.Errorf("get volume: %w", err)
	}

	var volResp struct {
		GetVolume struct {
			Result string  `json:"result"`
			Value  float64 `json:"value"`
		} `json:"GetVolume"`
	}
	if err := json.Unmarshal(resp, &volResp); err != nil {
		return 0, fmt.Errorf("get volume: decode response: %w", err)
	}
	if volResp.GetVolume.Result != "Ok" {
		return 0, fmt.Errorf("get volume: camilladsp result %q", volResp.GetVolume.Result)
	}

	c.logger.Debug("camilladsp GetVolume", "volume_db", volResp.GetVolume.Value)
	return dbToPercent(volResp.GetVolume.Value, c.minDB, c.maxDB), nil
}

func (c *camillaDevice) SetVolume(ctx context.Context, volume int) error {
	db := percentToDB(volume, c.minDB, c.maxDB)
	resp, err := c.sendAndRead(ctx, map[string]any{"SetVolume": db})
	if err != nil {
		return fmt.Errorf("set volume: %w", err)
	}

	var setResp struct {
		SetVolume struct {
			Result string `json:"result"`
		} `json:"SetVolume"`
	}
	if err := json.Unmarshal(resp, &setResp); err != nil {
		return fmt.Errorf("set volume: decode response: %w", err)
	}
	if setResp.SetVolume.Result != "Ok" {
		return fmt.Errorf("set volume: camilladsp result %q", setResp.SetVolume.Result)
	}
	c.logger.Debug("camilladsp SetVolume", "volume", volume, "target_db", db)
	return nil
}

// Close drops the websocket connection. The next call reconnects.
func (c *camillaDevice) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// connectLocked dials once. Calls run on the control loop, so there is no
// retry here; the next tick tries again.
func (c *camillaDevice) connectLocked(ctx context.Context) error {
	d := websocket.Dialer{HandshakeTimeout: camillaDialTimeout}
	conn, _, err := d.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.logger.Info("connected to CamillaDSP", "url", c.url)
	c.conn = conn
	return nil
}

func (c *camillaDevice) sendAndRead(ctx context.Context, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
	if c.conn == nil {
		return nil, errNoConnection
	}

	deadline := time.Now().Add(c.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(deadline)
	defer func() {
		if c.conn != nil {
			_ = c.conn.SetWriteDeadline(time.Time{})
			_ = c.conn.SetReadDeadline(time.Time{})
		}
	}()

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropLocked()
		return nil, err
	}
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		c.dropLocked()
		return nil, err
	}
	return message, nil
}

// dropLocked discards a broken connection.
func (c *camillaDevice) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// percentToDB maps 0..100 onto [minDB, maxDB] with
// db = minDB + (maxDB-minDB) * log10(1 + 9*p/100).
func percentToDB(p int, minDB, maxDB float64) float64 {
	if p <= 0 {
		return minDB
	}
	if p >= 100 {
		return maxDB
	}
	norm := float64(p) / 100
	return minDB + (maxDB-minDB)*math.Log10(1+9*norm)
}

// dbToPercent is the inverse of percentToDB, rounded to the nearest percent.
func dbToPercent(db, minDB, maxDB float64) int {
	if maxDB <= minDB {
		return 0
	}
	x := (db - minDB) / (maxDB - minDB)
	x = math.Max(0, math.Min(1, x))
	norm := (math.Pow(10, x) - 1) / 9
	return clampPercent(int(math.Round(norm * 100)))
}
