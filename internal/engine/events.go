package engine

import (
	"time"

	"github.com/RazorBackRoar/4Charm/internal/session"
)

// Event is one message on the batch event stream. The concrete types are
// DiscoveryEvent, ProgressEvent, LogEvent and DoneEvent; the stream always
// ends with a DoneEvent followed by channel close.
type Event interface {
	isEvent()
}

// DiscoveryEvent reports that one locator finished discovery.
type DiscoveryEvent struct {
	Index int    // 1-based position within the batch
	Total int    // locators in the batch
	Label string // human-readable origin, e.g. "/wg/ thread 123"
	Files int    // descriptors discovered for this locator
}

// ProgressEvent reports one finished transfer, successful or not.
type ProgressEvent struct {
	Completed    int // transfers finished so far, in commit order
	Total        int // transfers in the batch
	Filename     string
	Succeeded    bool
	AvgSpeedMBps float64 // whole-session average throughput
	Label        string  // origin locator label
	Index        int     // origin locator 1-based index
}

// LogEvent carries a human-readable log line for the caller to render.
type LogEvent struct {
	Level   string // "info", "warn" or "error"
	Message string
}

// DoneEvent is the final batch summary.
type DoneEvent struct {
	Stats     session.Stats
	Elapsed   time.Duration
	Cancelled bool
}

func (DiscoveryEvent) isEvent() {}
func (ProgressEvent) isEvent()  {}
func (LogEvent) isEvent()       {}
func (DoneEvent) isEvent()      {}
