package internal

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// bubbletea messages produced by the commands
type (
	connectedMsg     struct{ conn *websocket.Conn }
	incomingMsg      Message
	historyMsg       []Message
	rawMsg           string
	skippedMsg       struct{}
	connectFailedMsg struct{ err error }
	reconnectMsg     struct{}
	errorMsg         struct {
		conn *websocket.Conn
		err  error
	}
	roomsMsg struct {
		rooms []RoomStats
		err   error
	}
)

const helpText = "Commands: /join <room>, /part [room], /history, /as <name> <text>, /rooms, /quit"

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Any mode should respect Ctrl+C or Esc so the user can bail out quickly.
		if typedMessage.Type == tea.KeyCtrlC || typedMessage.Type == tea.KeyEsc {
			model.closeConnection()
			return model, tea.Quit
		}
		switch model.mode {
		case modeNamePrompt:
			return model.updateNamePrompt(typedMessage)
		case modeRoomPrompt:
			return model.updateRoomPrompt(typedMessage)
		default:
			return model.updateChat(typedMessage)
		}

	case tea.WindowSizeMsg:
		model.height = typedMessage.Height
		return model, nil

	case connectedMsg:
		if model.isConnected {
			_ = typedMessage.conn.Close()
			return model, nil
		}
		model.websocketConn = typedMessage.conn
		model.isConnected = true
		model.connectionError = nil
		return model, model.readOnceCmd()

	case incomingMsg:
		model.appendLines(lineFromMessage(Message(typedMessage)))
		return model, model.readOnceCmd()

	case historyMsg:
		model.replaceHistory(typedMessage)
		return model, model.readOnceCmd()

	case rawMsg:
		model.notice(string(typedMessage))
		return model, model.readOnceCmd()

	case skippedMsg:
		return model, model.readOnceCmd()

	case errorMsg:
		if typedMessage.conn != nil && typedMessage.conn != model.websocketConn {
			// a connection we already replaced
			return model, nil
		}
		model.connectionError = typedMessage.err
		if !model.isConnected {
			return model, nil
		}
		model.closeConnection()
		return model, model.scheduleReconnect()

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if model.mode == modeChat && !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case roomsMsg:
		if typedMessage.err != nil {
			model.notice(fmt.Sprintf("Error listing rooms: %v", typedMessage.err))
			return model, nil
		}
		model.notice(formatRooms(typedMessage.rooms))
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) updateNamePrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type != tea.KeyEnter {
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(key)
		return model, cmd
	}
	trimmed := strings.TrimSpace(model.textInput.Value())
	if trimmed == "" {
		model.notice("Display name cannot be empty.")
		return model, nil
	}
	model.username = trimmed
	if model.room == "" {
		model.enterRoomPrompt()
		return model, nil
	}
	model.enterChat()
	return model, model.connectCmd()
}

func (model *TUIModel) updateRoomPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type != tea.KeyEnter {
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(key)
		return model, cmd
	}
	room := strings.TrimSpace(model.textInput.Value())
	if room == "" {
		room = generateSecureKey(12)
		model.notice(inviteText(model.serverURL, room))
	}
	model.room = room
	model.addJoined(room)
	model.enterChat()
	return model, model.connectCmd()
}

func (model *TUIModel) updateChat(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type != tea.KeyEnter {
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(key)
		return model, cmd
	}
	trimmed := strings.TrimSpace(model.textInput.Value())
	model.textInput.SetValue("")
	if trimmed == "" {
		return model, nil
	}
	if strings.HasPrefix(trimmed, "/") {
		return model.runCommand(trimmed)
	}
	if model.room == "" {
		model.notice("Join a room first: /join <room>")
		return model, nil
	}
	if !model.isConnected {
		model.notice("Not connected yet; message not sent.")
		return model, nil
	}
	return model, model.sendCmd(clientEvent{Type: EventMessage, Room: model.room, Text: trimmed})
}

// runCommand handles the local slash commands.
func (model *TUIModel) runCommand(input string) (tea.Model, tea.Cmd) {
	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(name) {
	case "/quit", "/exit":
		model.closeConnection()
		return model, tea.Quit
	case "/help":
		model.notice(helpText)
	case "/join":
		if rest == "" {
			model.notice("Usage: /join <room>")
			return model, nil
		}
		model.room = rest
		model.addJoined(rest)
		if model.isConnected {
			return model, model.sendCmd(joinEvents(rest)...)
		}
	case "/part":
		room := rest
		if room == "" {
			room = model.room
		}
		if room == "" {
			model.notice("Usage: /part <room>")
			return model, nil
		}
		model.removeJoined(room)
		if model.room == room {
			model.room = ""
			if len(model.joined) > 0 {
				model.room = model.joined[len(model.joined)-1]
			}
		}
		if model.isConnected {
			return model, model.sendCmd(clientEvent{Type: EventPart, Room: room})
		}
	case "/history":
		if model.room == "" || !model.isConnected {
			model.notice("Nothing to fetch: join a room while connected.")
			return model, nil
		}
		return model, model.sendCmd(clientEvent{Type: EventHistory, Room: model.room})
	case "/as":
		author, text, ok := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if !ok || author == "" || text == "" {
			model.notice("Usage: /as <name> <text>")
			return model, nil
		}
		if model.room == "" || !model.isConnected {
			model.notice("Not connected to a room; message not sent.")
			return model, nil
		}
		return model, model.sendCmd(clientEvent{Type: EventMessage, Room: model.room, Text: text, Author: author, Spoof: true})
	case "/rooms":
		return model, model.roomsCmd()
	default:
		model.notice(fmt.Sprintf("Unknown command %s. %s", name, helpText))
	}
	return model, nil
}

func (model *TUIModel) closeConnection() {
	if model.websocketConn != nil {
		model.writeMutex.Lock()
		_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		model.writeMutex.Unlock()
		_ = model.websocketConn.Close()
	}
	model.isConnected = false
}

func formatRooms(rooms []RoomStats) string {
	if len(rooms) == 0 {
		return "No rooms on the server yet."
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	var sb strings.Builder
	sb.WriteString("Rooms:")
	for _, room := range rooms {
		fmt.Fprintf(&sb, "\n  %s (%d online, %d messages)", room.Name, room.Members, room.History)
	}
	return sb.String()
}
