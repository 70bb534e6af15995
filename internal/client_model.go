package internal

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const maxChatLines = 500

// ClientOptions configure the terminal client.
type ClientOptions struct {
	ServerURL string
	Username  string
	Room      string
	Insecure  bool
}

// chatLine is one rendered entry: a relayed message or a local notice.
type chatLine struct {
	Room   string
	Author string
	Text   string
	At     time.Time
	System bool
}

// tui model struct for all the components and modes
type TUIModel struct {
	textInput       textinput.Model
	lines           []chatLine
	serverURL       string
	insecure        bool
	room            string
	joined          []string
	username        string
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error
	mode            appMode
	height          int
}

type appMode int

const (
	modeNamePrompt appMode = iota
	modeRoomPrompt
	modeChat
)

func NewTUIModel(options ClientOptions) *TUIModel {
	input := textinput.New()
	input.CharLimit = 0

	model := &TUIModel{
		textInput: input,
		lines:     make([]chatLine, 0, 64),
		serverURL: options.ServerURL,
		insecure:  options.Insecure,
		username:  options.Username,
	}
	if options.Room != "" {
		model.room = options.Room
		model.joined = []string{options.Room}
	}
	switch {
	case model.username == "":
		model.username = defaultUsername()
		model.enterNamePrompt()
	case model.room == "":
		model.enterRoomPrompt()
	default:
		model.enterChat()
	}
	return model
}

// init user
func defaultUsername() string {
	if user := os.Getenv("COMICCHAT_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func (model *TUIModel) Init() tea.Cmd {
	if model.mode == modeChat {
		return tea.Batch(textinput.Blink, model.connectCmd())
	}
	return textinput.Blink
}

func (model *TUIModel) enterNamePrompt() {
	model.mode = modeNamePrompt
	model.textInput.SetValue(model.username)
	model.textInput.Placeholder = "Enter display name…"
	model.textInput.Prompt = "name> "
	model.textInput.Focus()
}

func (model *TUIModel) enterRoomPrompt() {
	model.mode = modeRoomPrompt
	model.textInput.SetValue("")
	model.textInput.Placeholder = "Room name (empty for a private room)…"
	model.textInput.Prompt = "room> "
	model.textInput.Focus()
}

func (model *TUIModel) enterChat() {
	model.mode = modeChat
	model.textInput.SetValue("")
	model.textInput.Placeholder = "Type a message…"
	model.textInput.Prompt = "> "
	model.textInput.Focus()
}

func (model *TUIModel) notice(text string) {
	model.appendLines(chatLine{Text: text, At: time.Now(), System: true})
}

func (model *TUIModel) appendLines(lines ...chatLine) {
	model.lines = append(model.lines, lines...)
	if overflow := len(model.lines) - maxChatLines; overflow > 0 {
		model.lines = append(model.lines[:0:0], model.lines[overflow:]...)
	}
}

// replaceHistory swaps the stored lines of every room present in history for
// the server's copy, so a reconnect does not duplicate scrollback.
func (model *TUIModel) replaceHistory(history []Message) {
	rooms := make(map[string]bool)
	for _, message := range history {
		rooms[message.Room] = true
	}
	kept := model.lines[:0:0]
	for _, line := range model.lines {
		if line.System || !rooms[line.Room] {
			kept = append(kept, line)
		}
	}
	model.lines = kept
	for _, message := range history {
		model.appendLines(lineFromMessage(message))
	}
}

func (model *TUIModel) addJoined(room string) {
	for _, existing := range model.joined {
		if existing == room {
			return
		}
	}
	model.joined = append(model.joined, room)
}

func (model *TUIModel) removeJoined(room string) {
	for i, existing := range model.joined {
		if existing == room {
			model.joined = append(model.joined[:i], model.joined[i+1:]...)
			return
		}
	}
}

func lineFromMessage(message Message) chatLine {
	return chatLine{
		Room:   message.Room,
		Author: message.Author,
		Text:   message.Text,
		At:     time.UnixMilli(message.Time),
	}
}
