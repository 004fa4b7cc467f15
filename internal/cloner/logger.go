package cloner

import "fmt"

// LogTag selects the prefix a progress line is rendered with.
type LogTag string

// Progress line tags.
const (
	TagHeader  LogTag = "header"
	TagSuccess LogTag = "success"
	TagError   LogTag = "error"
	TagAsset   LogTag = "asset"
	TagAI      LogTag = "ai"
	TagSparkle LogTag = "sparkle"
	TagPage    LogTag = "page"
	TagInfo    LogTag = "info"
	TagSubItem LogTag = "sub-item"
	TagCode    LogTag = "code"
)

// ProgressLogger receives the human-readable narrative of a job.
type ProgressLogger interface {
	Log(tag LogTag, text string)
}

// Logf formats and forwards a line to l.
func Logf(l ProgressLogger, tag LogTag, format string, args ...any) {
	if l == nil {
		return
	}
	l.Log(tag, fmt.Sprintf(format, args...))
}

// NopLogger discards all progress lines.
type NopLogger struct{}

// Log implements ProgressLogger.
func (NopLogger) Log(LogTag, string) {}
