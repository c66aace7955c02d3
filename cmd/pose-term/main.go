// pose-term shows the live pose overlay of a running posecam in the
// terminal. It connects to the /ws endpoint and redraws on every overlay
// message.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"posecam-go/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("pose-term", pflag.ContinueOnError)
	addr := flagSet.String("addr", "localhost:8888", "posecam host:port")
	retry := flagSet.Duration("retry", time.Second, "Reconnect delay")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	target := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan tea.Msg, 16)
	go follow(ctx, target.String(), *retry, events)

	program := tea.NewProgram(newModel(target.String(), events), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// follow keeps a websocket open to addr, forwarding decoded messages to
// events and reconnecting after retry when the link drops.
func follow(ctx context.Context, addr string, retry time.Duration, events chan<- tea.Msg) {
	send := func(msg tea.Msg) bool {
		select {
		case <-ctx.Done():
			return false
		case events <- msg:
			return true
		}
	}
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
		if err != nil {
			if !send(linkMsg{err: err}) {
				return
			}
		} else {
			if !send(linkMsg{connected: true}) {
				_ = conn.Close()
				return
			}
			err = readLoop(ctx, conn, send)
			_ = conn.Close()
			if !send(linkMsg{err: err}) {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, send func(tea.Msg) bool) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := decodeServerMessage(data)
		if err != nil || msg == nil {
			continue
		}
		if !send(msg) {
			return ctx.Err()
		}
	}
}

// decodeServerMessage maps a websocket payload to a UI message. Unknown
// message types return nil.
func decodeServerMessage(data []byte) (tea.Msg, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	switch envelope.Type {
	case "config":
		var msg types.ConfigMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return configMsg(msg), nil
	case "overlay":
		var msg types.OverlayMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return overlayMsg(msg), nil
	}
	return nil, nil
}
