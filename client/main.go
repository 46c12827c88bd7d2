package main

import (
	"bufio"
	"encoding/json"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// send writes one JSON frame to the server.
func send(c *websocket.Conn, msgType string, payload interface{}) error {
	frame := map[string]interface{}{"type": msgType}
	if payload != nil {
		frame["payload"] = payload
	}
	return c.WriteJSON(frame)
}

// parseCommand turns one input line into a message type and payload.
func parseCommand(line string) (string, interface{}, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, false
	}
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	switch fields[0] {
	case "ping":
		return "heartbeat", nil, true
	case "state":
		return "get_room_state", nil, true
	case "start":
		return "start_campaign", nil, true
	case "occupy", "switch", "release", "vacate":
		return fields[0] + "_seat", map[string]string{"seat_id": arg(1)}, arg(1) != ""
	case "assign":
		if arg(1) == "" || arg(2) == "" {
			return "", nil, false
		}
		return "assign_character", map[string]interface{}{
			"seat_id":           arg(1),
			"character_payload": map[string]string{"name": strings.Join(fields[2:], " ")},
		}, true
	case "act":
		return "game_action", map[string]interface{}{"action": map[string]string{"text": strings.Join(fields[1:], " ")}}, len(fields) > 1
	default:
		return "", nil, false
	}
}

func main() {
	addr := flag.String("addr", "localhost:8080", "server address")
	sessionID := flag.String("session", "", "session id")
	userID := flag.String("user", "", "user id")
	role := flag.String("role", "player", "dm or player")
	flag.Parse()

	if *sessionID == "" || *userID == "" {
		log.Fatal("--session and --user are required")
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	q := url.Values{}
	q.Set("session_id", *sessionID)
	q.Set("user_id", *userID)
	q.Set("role", *role)
	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: q.Encode()}
	log.Printf("Connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// Read loop
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				return
			}
			var env envelope
			if err := json.Unmarshal(message, &env); err != nil {
				log.Printf("Received invalid frame: %s", message)
				continue
			}
			log.Printf("<- %s %s", env.Type, string(env.Payload))
		}
	}()

	log.Println("Commands: occupy|switch|release|vacate <seat>, assign <seat> <name>, start, state, act <text>, ping")

	lines := make(chan string)
	go func() {
		reader := bufio.NewScanner(os.Stdin)
		for reader.Scan() {
			lines <- reader.Text()
		}
	}()

	// Write loop
	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("Interrupt received, closing connection.")
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Write close error:", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		case line := <-lines:
			msgType, payload, ok := parseCommand(line)
			if !ok {
				log.Printf("unknown command %q", strings.TrimSpace(line))
				continue
			}
			if err := send(c, msgType, payload); err != nil {
				log.Println("Write error:", err)
				return
			}
			log.Printf("-> %s", msgType)
		}
	}
}
