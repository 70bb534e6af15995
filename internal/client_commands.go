package internal

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// clientEvent is what the client writes. Spoof is omitted unless set so the
// server sees an ordinary frame.
type clientEvent struct {
	Type   string `json:"type"`
	Room   string `json:"room,omitempty"`
	Text   string `json:"text,omitempty"`
	Author string `json:"author,omitempty"`
	Spoof  bool   `json:"spoof,omitempty"`
}

func identifyEvent(username string) clientEvent {
	return clientEvent{Type: EventMessage, Text: username}
}

func joinEvents(room string) []clientEvent {
	return []clientEvent{
		{Type: EventJoin, Room: room},
		{Type: EventHistory, Room: room},
	}
}

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	// we schedule a future poke that nudges Update to try the connection again.
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *TUIModel) dialer() *websocket.Dialer {
	dialer := *websocket.DefaultDialer
	if model.insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &dialer
}

// websocket dial, then announce ourselves and rejoin every room
func (model *TUIModel) connectCmd() tea.Cmd {
	username := model.username
	rooms := append([]string(nil), model.joined...)
	return func() tea.Msg {
		if err := validateServerURL(model.serverURL); err != nil {
			return connectFailedMsg{err: err}
		}
		conn, _, err := model.dialer().Dial(model.serverURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err}
		}
		events := []clientEvent{identifyEvent(username)}
		for _, room := range rooms {
			events = append(events, joinEvents(room)...)
		}
		for _, event := range events {
			if err := writeEvent(conn, event); err != nil {
				_ = conn.Close()
				return connectFailedMsg{err: err}
			}
		}
		return connectedMsg{conn: conn}
	}
}

// asks /rooms for the server's room list
func (model *TUIModel) roomsCmd() tea.Cmd {
	return func() tea.Msg {
		urlStr, err := buildHTTPURL(model.serverURL, "/rooms", nil)
		if err != nil {
			return roomsMsg{err: err}
		}
		client := &http.Client{Timeout: 3 * time.Second}
		if model.insecure {
			client.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
		}
		resp, err := client.Get(urlStr)
		if err != nil {
			return roomsMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return roomsMsg{err: fmt.Errorf("rooms: %s", resp.Status)}
		}
		var body roomsResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return roomsMsg{err: fmt.Errorf("decode rooms: %w", err)}
		}
		return roomsMsg{rooms: body.Rooms}
	}
}

// one frame per command; the server answers asynchronously
func (model *TUIModel) readOnceCmd() tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return errorMsg{err: errors.New("websocket not connected")}
		}
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return errorMsg{conn: conn, err: err}
		}
		if messageType != websocket.TextMessage {
			return skippedMsg{}
		}
		return parseServerFrame(payload)
	}
}

func (model *TUIModel) sendCmd(events ...clientEvent) tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return errorMsg{err: errors.New("websocket not connected")}
		}
		model.writeMutex.Lock()
		defer model.writeMutex.Unlock()
		for _, event := range events {
			if err := writeEvent(conn, event); err != nil {
				return errorMsg{conn: conn, err: err}
			}
		}
		return nil
	}
}

func writeEvent(conn *websocket.Conn, event clientEvent) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, encoded)
}

// parseServerFrame turns one relay frame into a bubbletea message. Anything
// unrecognised is shown verbatim.
func parseServerFrame(payload []byte) tea.Msg {
	var envelope struct {
		Type    string   `json:"type"`
		History []string `json:"history"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return rawMsg(string(payload))
	}
	switch envelope.Type {
	case EventHistory:
		history := make([]Message, 0, len(envelope.History))
		for _, entry := range envelope.History {
			var message Message
			if err := json.Unmarshal([]byte(entry), &message); err != nil {
				continue
			}
			history = append(history, message)
		}
		return historyMsg(history)
	case EventMessage:
		var message Message
		if err := json.Unmarshal(payload, &message); err != nil {
			return rawMsg(string(payload))
		}
		return incomingMsg(message)
	}
	return rawMsg(string(payload))
}

//entry for bubbletea
func RunClient(options ClientOptions) error {
	if err := validateServerURL(options.ServerURL); err != nil {
		return err
	}
	program := tea.NewProgram(NewTUIModel(options), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func validateServerURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse server url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	return nil
}

// maps ws(s)://host[:port]/path onto http(s)://host[:port]/<path>?<query>
func buildHTTPURL(wsBase, path string, query url.Values) (string, error) {
	parsed, err := url.Parse(wsBase)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	parsed.Path = path
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// make shareable room code using base32
func generateSecureKey(length int) string {
	if length < 8 {
		length = 8
	}
	// base32 encoding gets 1.6 bytes per char
	byteLen := (length * 5) / 8
	if (length*5)%8 != 0 {
		byteLen++
	}
	b := make([]byte, byteLen)
	_, _ = rand.Read(b)
	//  base32 without padding, uppercase A-Z2-7
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
	if len(enc) >= length {
		return enc[:length]
	}
	return enc
}

func inviteText(serverURL, room string) string {
	var sb strings.Builder
	sb.WriteString("Private room created. Invite others with:\n  ")
	sb.WriteString("go run ./cmd/client -server ")
	sb.WriteString(serverURL)
	sb.WriteString(" -user <name> ")
	sb.WriteString(room)
	return sb.String()
}
