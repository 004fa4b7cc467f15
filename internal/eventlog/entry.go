package eventlog

import (
	"strings"
	"time"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// Sentinel is the reserved line that terminates a job's stream.
const Sentinel = "[END]"

var tagPrefixes = map[cloner.LogTag]string{
	cloner.TagHeader:  "🚀",
	cloner.TagSuccess: "✅",
	cloner.TagError:   "ERROR:",
	cloner.TagAsset:   "📦",
	cloner.TagAI:      "🧠",
	cloner.TagSparkle: "✨",
	cloner.TagPage:    "📄",
	cloner.TagInfo:    ">",
	cloner.TagSubItem: "- ",
	cloner.TagCode:    "CODE:",
}

// Entry is one line of a job's history.
type Entry struct {
	Seq  int           `json:"seq"`
	Tag  cloner.LogTag `json:"tag"`
	Text string        `json:"text"`
	At   time.Time     `json:"at"`
}

// IsEnd reports whether e is the terminating sentinel.
func (e Entry) IsEnd() bool {
	return e.Tag == "" && e.Text == Sentinel
}

// Line renders the entry with its tag prefix; unknown tags render as info.
func (e Entry) Line() string {
	if e.IsEnd() {
		return Sentinel
	}
	prefix, ok := tagPrefixes[e.Tag]
	if !ok {
		prefix = tagPrefixes[cloner.TagInfo]
	}
	return strings.TrimSpace(prefix + " " + e.Text)
}
