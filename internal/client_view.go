package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// pre styled colors// all from lipglpss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	roomTagStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

// rows taken by everything but the message box
const chatChromeRows = 12

func (model *TUIModel) View() string {
	switch model.mode {
	case modeNamePrompt:
		return model.renderPrompt("Choose a display name", "The first message the relay sees from you becomes your name.")
	case modeRoomPrompt:
		return model.renderPrompt("Join a room", "Enter a room name, or leave it empty for a private room.")
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderPrompt(title, hint string) string {
	header := appTitleStyle.Render(title)
	hintText := menuHintStyle.Render(hint)

	viewSections := []string{header, hintText}

	if notices := model.renderSystemNotices(); notices != "" {
		viewSections = append(viewSections, notices)
	}

	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderChatView() string {
	headerSegments := []string{"comicchat"}
	if model.room != "" {
		headerSegments = append(headerSegments, fmt.Sprintf("Room %s", model.room))
	}
	if len(model.joined) > 1 {
		headerSegments = append(headerSegments, fmt.Sprintf("Joined %s", strings.Join(model.joined, ", ")))
	}
	headerSegments = append(headerSegments, fmt.Sprintf("User %s", model.username))
	headerSegments = append(headerSegments, fmt.Sprintf("Server %s", model.serverURL))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var statusLine string
	switch {
	case model.connectionError != nil && !model.isConnected:
		statusLine = errorStyle.Render("Connection error: " + model.connectionError.Error() + " (retrying)")
	case model.isConnected:
		statusLine = connectedStyle.Render("Connected")
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}

	var messageLines []string
	for _, line := range model.visibleLines() {
		messageLines = append(messageLines, model.renderChatLine(line))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}

	messagesView := messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))
	inputView := inputBoxStyle.Render(model.textInput.View())
	footerHint := menuHintStyle.Render(helpText)

	sections := []string{header, statusLine, messagesView, inputView, footerHint}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// visibleLines keeps the tail that fits the terminal.
func (model *TUIModel) visibleLines() []chatLine {
	if model.height <= 0 {
		return model.lines
	}
	rows := model.height - chatChromeRows
	if rows < 1 {
		rows = 1
	}
	if len(model.lines) <= rows {
		return model.lines
	}
	return model.lines[len(model.lines)-rows:]
}

func (model *TUIModel) renderSystemNotices() string {
	var notices []string
	for _, line := range model.lines {
		if line.System {
			notices = append(notices, systemMessageStyle.Render(line.Text))
		}
	}
	if len(notices) == 0 {
		return ""
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, notices...))
}

// renderChatLine renders a single log line. Lines from rooms other than the
// active one carry a room tag.
func (model *TUIModel) renderChatLine(line chatLine) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", line.At.Format("15:04:05")))
	if line.System {
		body := systemMessageStyle.Render(line.Text)
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", body)
	}

	var nameStyle lipgloss.Style
	if line.Author == model.username {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(line.Author))
	}

	parts := []string{timestamp, " "}
	if line.Room != model.room {
		parts = append(parts, roomTagStyle.Render("#"+line.Room), " ")
	}
	parts = append(parts,
		nameStyle.Render(line.Author),
		": ",
		messageBodyStyle.Render(strings.ReplaceAll(line.Text, "\n", "\n   ")),
	)
	return lipgloss.JoinHorizontal(lipgloss.Left, parts...)
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
