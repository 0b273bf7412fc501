package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// codeflow-ctl sends requests to the codeflow daemon over its IPC socket.
// It is also handy for driving the daemon from editor plugins that cannot
// speak to a Unix socket directly.

const (
	defaultSocketPath = "/tmp/codeflow.sock"
	dialTimeout       = 2 * time.Second
	replyTimeout      = 3 * time.Second
)

// Wire types, duplicated from the daemon for a standalone binary.

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ipcResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type snapshot struct {
	State        string  `json:"state"`
	Speed        float64 `json:"speed"`
	Volume       int     `json:"volume"`
	Focused      bool    `json:"focused"`
	AutoPaused   bool    `json:"auto_paused"`
	GracePending bool    `json:"grace_pending"`
	Status       struct {
		Text    string `json:"text"`
		Tooltip string `json:"tooltip"`
	} `json:"status"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var socketPath string

	root := &cobra.Command{
		Use:           "codeflow-ctl",
		Short:         "Control the codeflow daemon via IPC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", defaultSocketPath, "Unix domain socket path")

	root.AddCommand(
		newSimpleCmd(&socketPath, "start", "Start sampling and driving the volume"),
		newSimpleCmd(&socketPath, "stop", "Stop sampling; the volume stays where it is"),
		newSimpleCmd(&socketPath, "toggle", "Start when stopped, stop when running"),
		newEditCmd(&socketPath),
		newFocusCmd(&socketPath),
		newBlurCmd(&socketPath),
		newStatusCmd(&socketPath),
	)
	return root
}

func newSimpleCmd(socketPath *string, typ, short string) *cobra.Command {
	return &cobra.Command{
		Use:   typ,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := send(*socketPath, envelope{Type: typ}); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newEditCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "edit [magnitude]",
		Short: "Report editing activity (default magnitude 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			magnitude := 1.0
			if len(args) == 1 {
				v, err := strconv.ParseFloat(args[0], 64)
				if err != nil || v < 0 {
					return fmt.Errorf("invalid magnitude %q", args[0])
				}
				magnitude = v
			}
			env, err := withData("edit", map[string]float64{"magnitude": magnitude})
			if err != nil {
				return err
			}
			if _, err := send(*socketPath, env); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newFocusCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "focus [on|off]",
		Short:     "Report the editor window gaining (default) or losing focus",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			focused := true
			if len(args) == 1 {
				var err error
				if focused, err = parseOnOff(args[0]); err != nil {
					return err
				}
			}
			return sendFocus(cmd, *socketPath, focused)
		},
	}
}

func newBlurCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "blur",
		Short: "Report the editor window losing focus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return sendFocus(cmd, *socketPath, false)
		},
	}
}

func sendFocus(cmd *cobra.Command, socketPath string, focused bool) error {
	env, err := withData("focus_changed", map[string]bool{"focused": focused})
	if err != nil {
		return err
	}
	if _, err := send(socketPath, env); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func newStatusCmd(socketPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := send(*socketPath, envelope{Type: "status"})
			if err != nil {
				return err
			}
			if asJSON {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(resp.Data))
				return nil
			}
			var snap snapshot
			if err := json.Unmarshal(resp.Data, &snap); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON snapshot")
	return cmd
}

func printStatus(w io.Writer, s snapshot) {
	_, _ = fmt.Fprintf(w, "state:   %s\n", s.State)
	_, _ = fmt.Fprintf(w, "speed:   %.2f\n", s.Speed)
	_, _ = fmt.Fprintf(w, "volume:  %d\n", s.Volume)
	_, _ = fmt.Fprintf(w, "focused: %t\n", s.Focused)
	if s.AutoPaused {
		_, _ = fmt.Fprintln(w, "paused while in background")
	} else if s.GracePending {
		_, _ = fmt.Fprintln(w, "background pause pending")
	}
	_, _ = fmt.Fprintf(w, "status:  %s (%s)\n", s.Status.Text, s.Status.Tooltip)
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func withData(typ string, v any) (envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return envelope{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return envelope{Type: typ, Data: data}, nil
}

// send writes one request line and reads one response.
func send(socketPath string, env envelope) (ipcResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(replyTimeout))

	line, err := json.Marshal(env)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return ipcResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp ipcResponse
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		if resp.Error == "" {
			return resp, errors.New("daemon returned an error")
		}
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return resp, nil
}
