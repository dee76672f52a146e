package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/pingline/pingline-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	api := flag.String("api", "http://localhost:8080", "server base URL")
	user := flag.String("user", "", "username (empty for guest access)")
	password := flag.String("password", "", "password")
	to := flag.String("to", "", "default recipient (empty for everyone)")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	token, err := obtainToken(ctx, *api, *user, *password)
	if err != nil {
		return err
	}

	wsURL := strings.Replace(*api, "http", "ws", 1) + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	fmt.Printf("Connected to %s\n", *api)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *to)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

// obtainToken logs in with the given credentials, or requests guest
// access when no username is set.
func obtainToken(ctx context.Context, api, user, password string) (string, error) {
	path := "/api/guest"
	var body []byte
	if user != "" {
		path = "/api/login"
		raw, err := json.Marshal(map[string]string{"username": user, "password": password})
		if err != nil {
			return "", fmt.Errorf("marshal login: %w", err)
		}
		body = raw
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("auth failed: status %d", resp.StatusCode)
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	return auth.Token, nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if frame.Type == proto.OutboundTypeError {
			fmt.Printf("server error: %s (%s)\n", frame.Error.Msg, frame.Error.Code)
			continue
		}

		switch frame.Event {
		case proto.EventChatMessage:
			var evt proto.EventMessage
			if err := json.Unmarshal(frame.Data, &evt); err != nil {
				log.Printf("unmarshal chatMessage: %v", err)
				continue
			}
			scope := ""
			if evt.Recipient != "broadcast" {
				scope = " (private)"
			}
			fmt.Printf("%s%s: %s\n", evt.Sender, scope, evt.Body)
		case proto.EventPresenceChanged:
			var evt proto.EventPresence
			if err := json.Unmarshal(frame.Data, &evt); err != nil {
				log.Printf("unmarshal presenceChanged: %v", err)
				continue
			}
			fmt.Printf("* %s is now %s\n", evt.UserID, evt.Status)
		case proto.EventUserTyping:
			var evt proto.EventTyping
			if err := json.Unmarshal(frame.Data, &evt); err != nil {
				log.Printf("unmarshal userTyping: %v", err)
				continue
			}
			fmt.Printf("* %s is typing...\n", evt.UserID)
		case proto.EventPresenceSnapshot:
			var evt proto.EventSnapshot
			if err := json.Unmarshal(frame.Data, &evt); err != nil {
				log.Printf("unmarshal presenceSnapshot: %v", err)
				continue
			}
			online := make([]string, 0, len(evt.Users))
			for user := range evt.Users {
				online = append(online, user)
			}
			fmt.Printf("* online now: %s\n", strings.Join(online, ", "))
		case proto.EventStopTyping:
			// Quiet; the typing notice expires on its own.
		default:
			fmt.Printf("event=%s data=%s\n", frame.Event, frame.Data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, to string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			recipient := to
			// "@bob hello" sends a one-off private message.
			if strings.HasPrefix(text, "@") {
				if parts := strings.SplitN(text[1:], " ", 2); len(parts) == 2 {
					recipient, text = parts[0], parts[1]
				}
			}

			payload, err := json.Marshal(proto.ChatMessageData{Body: text, Recipient: recipient})
			if err != nil {
				log.Printf("marshal chatMessage: %v", err)
				return
			}
			if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeChatMessage, Data: payload}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
