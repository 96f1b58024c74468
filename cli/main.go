// Package main provides a terminal client for one party of a negotiation.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/negotiator/internal/domain"
	"github.com/xiaot623/gogo/negotiator/internal/protocol"
)

// Client represents a WebSocket client.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	role      domain.Role
	lang      domain.Language
	done      chan struct{}
}

// NewClient creates a new client and connects to the server.
func NewClient(addr string, lang domain.Language) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		lang: lang,
		done: make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

func base(msgType, sessionID string) protocol.BaseMessage {
	now := time.Now()
	return protocol.BaseMessage{
		Type:      msgType,
		Ts:        now.UnixMilli(),
		SessionID: sessionID,
		RequestID: fmt.Sprintf("req_%d", now.UnixNano()),
	}
}

// SendHello joins a session and waits for hello_ack.
func (c *Client) SendHello(hello protocol.HelloMessage) (*protocol.HelloAckMessage, error) {
	hello.BaseMessage = base(protocol.TypeHello, hello.SessionID)
	if err := c.conn.WriteJSON(hello); err != nil {
		return nil, fmt.Errorf("write hello: %w", err)
	}

	// Wait for hello_ack, skipping frames that do not answer the hello.
	var data []byte
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read hello_ack: %w", err)
		}

		var b protocol.BaseMessage
		if err := json.Unmarshal(frame, &b); err != nil {
			return nil, fmt.Errorf("unmarshal hello_ack: %w", err)
		}

		if b.Type == protocol.TypeError {
			var errMsg protocol.ErrorMessage
			json.Unmarshal(frame, &errMsg)
			return nil, fmt.Errorf("hello failed: %s - %s", errMsg.Code, errMsg.Message)
		}
		if b.Type == protocol.TypeHelloAck {
			data = frame
			break
		}
	}

	var ack protocol.HelloAckMessage
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, fmt.Errorf("unmarshal hello_ack: %w", err)
	}
	c.sessionID = ack.SessionID
	c.role = ack.Role
	return &ack, nil
}

// Execute turns one input line into a frame and sends it.
func (c *Client) Execute(input string) (bool, error) {
	frame, quit, err := parseInput(input, c.sessionID, c.lang)
	if err != nil || quit || frame == nil {
		return quit, err
	}
	return false, c.conn.WriteJSON(frame)
}

// parseInput maps a line to a frame. Plain text is a chat message;
// commands start with a slash.
func parseInput(input, sessionID string, lang domain.Language) (interface{}, bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, false, nil
	}
	if !strings.HasPrefix(input, "/") {
		return protocol.SendMessageMessage{
			BaseMessage:  base(protocol.TypeSendMessage, sessionID),
			Content:      input,
			LanguageCode: lang,
		}, false, nil
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit":
		return nil, true, nil
	case "/propose":
		title, body, ok := strings.Cut(arg, "|")
		title, body = strings.TrimSpace(title), strings.TrimSpace(body)
		if !ok || title == "" || body == "" {
			return nil, false, fmt.Errorf("usage: /propose <title> | <clause>")
		}
		return protocol.ProposeTermMessage{
			BaseMessage:   base(protocol.TypeProposeTerm, sessionID),
			ClauseTitle:   title,
			ClauseContent: body,
		}, false, nil
	case "/accept", "/dispute", "/reject":
		if arg == "" {
			return nil, false, fmt.Errorf("usage: %s <term_id>", cmd)
		}
		status := map[string]domain.TermStatus{
			"/accept":  domain.TermStatusAccepted,
			"/dispute": domain.TermStatusDisputed,
			"/reject":  domain.TermStatusRejected,
		}[cmd]
		return protocol.UpdateTermMessage{
			BaseMessage: base(protocol.TypeUpdateTerm, sessionID),
			TermID:      arg,
			Status:      status,
		}, false, nil
	case "/ratify":
		return protocol.RatifyMessage{BaseMessage: base(protocol.TypeRatify, sessionID)}, false, nil
	default:
		return nil, false, fmt.Errorf("unknown command %s", cmd)
	}
}

// ReadMessages reads and prints frames from the server.
func (c *Client) ReadMessages() {
	for {
		select {
		case <-c.done:
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("Read error: %v", err)
				}
				return
			}
			fmt.Printf("\n%s\n> ", describe(data))
		}
	}
}

// describe renders a server frame as one readable line.
func describe(data []byte) string {
	var b protocol.BaseMessage
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Sprintf("[?] %s", data)
	}

	switch b.Type {
	case protocol.TypeMessage:
		var ev protocol.MessageEvent
		if err := json.Unmarshal(data, &ev); err == nil && ev.Message != nil {
			m := ev.Message
			line := fmt.Sprintf("[%s] %s (%s, %s)", m.SenderRole, m.ContentOriginal, m.LanguageCode, m.Intent)
			if m.ContentTranslated != nil {
				line += "\n    -> " + *m.ContentTranslated
			}
			return line
		}
	case protocol.TypeTerm:
		var ev protocol.TermEvent
		if err := json.Unmarshal(data, &ev); err == nil && ev.Term != nil {
			line := fmt.Sprintf("[term %s] %s: %s (%s)", ev.Term.ID, ev.Term.ClauseTitle, ev.Term.ClauseContent, ev.Term.Status)
			if ev.CanRatify {
				line += "\n    all terms accepted, /ratify to finalise"
			}
			return line
		}
	case protocol.TypeSession:
		var ev protocol.SessionEvent
		if err := json.Unmarshal(data, &ev); err == nil && ev.Session != nil {
			return fmt.Sprintf("[session] %s is now %s", ev.Session.CaseName, ev.Session.Status)
		}
	case protocol.TypePresence:
		var ev protocol.PresenceMessage
		if err := json.Unmarshal(data, &ev); err == nil {
			return fmt.Sprintf("[presence] %s %s, online: %v", ev.Role, ev.State, ev.Online)
		}
	case protocol.TypeError:
		var ev protocol.ErrorMessage
		if err := json.Unmarshal(data, &ev); err == nil {
			return fmt.Sprintf("[error] %s: %s", ev.Code, ev.Message)
		}
	}

	var pretty map[string]interface{}
	json.Unmarshal(data, &pretty)
	formatted, _ := json.MarshalIndent(pretty, "", "  ")
	return fmt.Sprintf("[%s]\n%s", b.Type, formatted)
}

func main() {
	addr := flag.String("url", "ws://localhost:8080/ws", "WebSocket server address")
	apiKey := flag.String("api-key", "", "API key for authentication")
	link := flag.String("link", "", "Invite link to join")
	sessionID := flag.String("session", "", "Session ID to join")
	role := flag.String("role", "party_a", "Role when joining by session or creating one")
	caseName := flag.String("case", "", "Case name for a new session")
	lang := flag.String("lang", "en", "Language of your messages (en, hi, mr)")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if !domain.Language(*lang).Valid() {
		log.Fatalf("Unsupported language: %s", *lang)
	}
	if *link == "" && *sessionID == "" && *caseName == "" {
		log.Fatalf("One of -link, -session or -case is required")
	}

	fmt.Printf("Connecting to %s...\n", *addr)

	client, err := NewClient(*addr, domain.Language(*lang))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	hello := protocol.HelloMessage{
		Role:     domain.Role(*role),
		APIKey:   *apiKey,
		CaseName: *caseName,
		Link:     *link,
	}
	hello.SessionID = *sessionID
	ack, err := client.SendHello(hello)
	if err != nil {
		log.Fatalf("Hello failed: %v", err)
	}

	fmt.Printf("Joined %q as %s (session %s)\n", caseNameOf(ack), ack.Role, ack.SessionID)
	if ack.InviteLink != "" {
		fmt.Printf("Invite the other party with: %s\n", ack.InviteLink)
	}
	for _, t := range ack.Snapshot.Terms {
		fmt.Printf("[term %s] %s: %s (%s)\n", t.ID, t.ClauseTitle, t.ClauseContent, t.Status)
	}
	fmt.Println("\nType a message and press Enter to send.")
	fmt.Println("Commands: /propose <title> | <clause>, /accept <id>, /dispute <id>, /reject <id>, /ratify, /quit")

	// Start reading messages in background
	go client.ReadMessages()

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return
		case input, ok := <-lines:
			if !ok {
				return
			}
			quit, err := client.Execute(input)
			if err != nil {
				log.Printf("Send error: %v", err)
				continue
			}
			if quit {
				fmt.Println("Bye!")
				return
			}
		}
	}
}

func caseNameOf(ack *protocol.HelloAckMessage) string {
	if ack.Snapshot.Session == nil {
		return ""
	}
	return ack.Snapshot.Session.CaseName
}
