package schemas

import "fmt"

// -- Console Schemas --

// LogLevel is the severity of a captured console message.
type LogLevel int

const (
	LevelLog     LogLevel = 0
	LevelWarning LogLevel = 1
	LevelError   LogLevel = 2
)

// String maps the level to its display name. Unknown levels render as "log".
func (l LogLevel) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "log"
	}
}

// LogMessage is a single console message emitted by a target.
type LogMessage struct {
	Level LogLevel `json:"level"`
	Text  string   `json:"text"`
}

// FormatLogLine renders a message the way it is stored in a log buffer.
func FormatLogLine(msg LogMessage) string {
	return fmt.Sprintf("[%s] %s", msg.Level, msg.Text)
}
