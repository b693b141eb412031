package bus

// LogSubsystem tags the origin of a log item.
type LogSubsystem uint8

const (
	LogEngine LogSubsystem = iota
	LogProcessor
	LogSource
	LogLoader
	LogNetwork
	LogDriver
	LogBoot
)

// String names the subsystem for the log file.
func (s LogSubsystem) String() string {
	switch s {
	case LogProcessor:
		return "processor"
	case LogSource:
		return "source"
	case LogLoader:
		return "loader"
	case LogNetwork:
		return "network"
	case LogDriver:
		return "driver"
	case LogBoot:
		return "boot"
	default:
		return "engine"
	}
}

// LogLevel mirrors the slog levels the drain goroutine maps items onto.
type LogLevel uint8

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LogCode identifies a realtime-plane log event. The realtime thread cannot
// format strings, so it enqueues a code plus two integer arguments; the log
// drain goroutine expands the code into text.
type LogCode uint16

const (
	CodeNone LogCode = iota
	CodeCommand
	CodeCueExhausted
	CodeSourceError
	CodeClipOutOfRange
	CodeCommandDropped
	CodeMessageDropped
)

// LogItem is one entry on the log queue. The realtime plane fills only the
// fixed fields; non-realtime callers may also attach Text.
type LogItem struct {
	Subsystem  LogSubsystem
	Level      LogLevel
	Code       LogCode
	Arg1, Arg2 int64

	// Text is set by non-realtime producers only.
	Text string
}

// Expand renders the item's code and arguments into a log message. Items
// carrying Text return it unchanged.
func (it LogItem) Expand() string {
	if it.Text != "" {
		return it.Text
	}
	switch it.Code {
	case CodeCommand:
		return "applied " + ActionKind(it.Arg1).String()
	case CodeCueExhausted:
		return "cue exhausted, advancing"
	case CodeSourceError:
		return "audio source failed"
	case CodeClipOutOfRange:
		return "clip index out of range"
	case CodeCommandDropped:
		return "command queue full, command dropped"
	case CodeMessageDropped:
		return "message queue full, notification dropped"
	default:
		return "event"
	}
}
