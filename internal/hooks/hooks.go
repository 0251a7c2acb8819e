// Package hooks runs user-supplied commands and webhooks on batch lifecycle
// events.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Event names a point in the batch lifecycle.
type Event string

const (
	EventBatchStart    Event = "batch_start"    // Discovery began
	EventFileComplete  Event = "file_complete"  // One file persisted
	EventFileError     Event = "file_error"     // One file failed terminally
	EventBatchComplete Event = "batch_complete" // Batch finished
	EventBatchCancel   Event = "batch_cancel"   // Batch cancelled
)

// Payload carries the event details handed to every hook.
type Payload struct {
	Event        Event     `json:"event"`
	URL          string    `json:"url,omitempty"`
	Filename     string    `json:"filename,omitempty"`
	Folder       string    `json:"folder,omitempty"`
	Downloaded   int       `json:"downloaded"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	Duplicates   int       `json:"duplicates"`
	TotalBytes   int64     `json:"total_bytes"`
	AvgSpeedMBps float64   `json:"avg_speed_mbps"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Duration     float64   `json:"duration_seconds,omitempty"`
}

// Hook is the interface for all hook types
type Hook interface {
	Execute(ctx context.Context, payload *Payload) error
	Name() string
}

// CommandHook executes a shell command on events
type CommandHook struct {
	Command string
	Events  []Event
	Timeout time.Duration
}

// NewCommandHook creates a new command hook. Without explicit events it
// fires on batch completion and cancellation.
func NewCommandHook(command string, events ...Event) *CommandHook {
	if len(events) == 0 {
		events = []Event{EventBatchComplete, EventBatchCancel}
	}
	return &CommandHook{
		Command: command,
		Events:  events,
		Timeout: 30 * time.Second,
	}
}

// Name returns the hook name
func (h *CommandHook) Name() string {
	return fmt.Sprintf("command:%s", h.Command)
}

// Execute runs the command with the payload exposed as environment variables.
func (h *CommandHook) Execute(ctx context.Context, payload *Payload) error {
	if !h.shouldHandle(payload.Event) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	var cmd *exec.Cmd
	if isWindows() {
		cmd = exec.CommandContext(ctx, "cmd", "/C", h.Command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", h.Command)
	}
	cmd.Env = append(os.Environ(), h.buildEnv(payload)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("hook command failed: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}

func (h *CommandHook) shouldHandle(event Event) bool {
	for _, e := range h.Events {
		if e == event {
			return true
		}
	}
	return false
}

func (h *CommandHook) buildEnv(payload *Payload) []string {
	return []string{
		fmt.Sprintf("FOURCHARM_EVENT=%s", payload.Event),
		fmt.Sprintf("FOURCHARM_URL=%s", payload.URL),
		fmt.Sprintf("FOURCHARM_FILENAME=%s", payload.Filename),
		fmt.Sprintf("FOURCHARM_FOLDER=%s", payload.Folder),
		fmt.Sprintf("FOURCHARM_DOWNLOADED=%d", payload.Downloaded),
		fmt.Sprintf("FOURCHARM_FAILED=%d", payload.Failed),
		fmt.Sprintf("FOURCHARM_SKIPPED=%d", payload.Skipped),
		fmt.Sprintf("FOURCHARM_DUPLICATES=%d", payload.Duplicates),
		fmt.Sprintf("FOURCHARM_BYTES=%d", payload.TotalBytes),
		fmt.Sprintf("FOURCHARM_SPEED=%.2f", payload.AvgSpeedMBps),
		fmt.Sprintf("FOURCHARM_ERROR=%s", payload.Error),
		fmt.Sprintf("FOURCHARM_DURATION=%.2f", payload.Duration),
	}
}

// WebhookHook sends HTTP POST requests on events
type WebhookHook struct {
	URL     string
	Events  []Event
	Headers map[string]string
	Timeout time.Duration
	client  *http.Client
}

// NewWebhookHook creates a new webhook hook. Without explicit events it
// fires on batch completion and cancellation.
func NewWebhookHook(url string, events ...Event) *WebhookHook {
	if len(events) == 0 {
		events = []Event{EventBatchComplete, EventBatchCancel}
	}
	return &WebhookHook{
		URL:     url,
		Events:  events,
		Headers: make(map[string]string),
		Timeout: 10 * time.Second,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithHeader adds a header to the webhook request
func (h *WebhookHook) WithHeader(key, value string) *WebhookHook {
	h.Headers[key] = value
	return h
}

// Name returns the hook name
func (h *WebhookHook) Name() string {
	return fmt.Sprintf("webhook:%s", h.URL)
}

// Execute sends the webhook request with the JSON-encoded payload.
func (h *WebhookHook) Execute(ctx context.Context, payload *Payload) error {
	if !h.shouldHandle(payload.Event) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "4Charm-Webhook/1.0")
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (h *WebhookHook) shouldHandle(event Event) bool {
	for _, e := range h.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Manager manages multiple hooks
type Manager struct {
	hooks []Hook
}

// NewManager creates a new hook manager
func NewManager() *Manager {
	return &Manager{
		hooks: make([]Hook, 0),
	}
}

// Add adds a hook to the manager
func (m *Manager) Add(hook Hook) {
	m.hooks = append(m.hooks, hook)
}

// AddCommand adds a command hook
func (m *Manager) AddCommand(command string, events ...Event) {
	m.Add(NewCommandHook(command, events...))
}

// AddWebhook adds a webhook hook
func (m *Manager) AddWebhook(url string, events ...Event) {
	m.Add(NewWebhookHook(url, events...))
}

// Execute runs all hooks for the given event. Hook failures are collected,
// never fatal to the batch.
func (m *Manager) Execute(ctx context.Context, payload *Payload) error {
	var errs []string
	for _, hook := range m.hooks {
		if err := hook.Execute(ctx, payload); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", hook.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("hook errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Len returns the number of registered hooks.
func (m *Manager) Len() int {
	return len(m.hooks)
}

func isWindows() bool {
	return runtime.GOOS == "windows"
}
