// Package sidecar supervises the local deterministic NLP process and
// exposes its intent extraction over HTTP. The process is launched at
// most once; concurrent first callers serialize on the start lock rather
// than spawning duplicates.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldstack/assist/internal/config"
	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/metrics"
	"fieldstack/assist/internal/resolver"
)

// ErrUnavailable means the sidecar is not running and could not be
// started.
var ErrUnavailable = errors.New("sidecar: local NLP service unavailable")

type State int32

const (
	NotStarted State = iota
	Starting
	Healthy
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Healthy:
		return "healthy"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// IntentEntity is one symbol mention the sidecar extracted.
type IntentEntity struct {
	Type   string `json:"type"`
	Value  string `json:"value"`
	Symbol string `json:"symbol"`
}

// IntentResult is the sidecar's structured classification of a request.
// Created fresh per request and consumed immediately; never persisted.
type IntentResult struct {
	Intent         string         `json:"intent"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Priority       string         `json:"priority"`
	Assignees      []string       `json:"assignees"`
	WorkOrder      string         `json:"work_order,omitempty"`
	Project        string         `json:"project,omitempty"`
	Client         string         `json:"client,omitempty"`
	DueDate        string         `json:"due_date,omitempty"`
	StartDate      string         `json:"start_date,omitempty"`
	EstimatedHours float64        `json:"estimated_hours,omitempty"`
	Entities       []IntentEntity `json:"entities"`
	Confidence     float64        `json:"confidence"`
	Success        bool           `json:"success"`
}

type processRequest struct {
	OriginalText string `json:"originalText,omitempty"`
	ParsedText   string `json:"parsedText,omitempty"`
	Text         string `json:"text"`
	UserID       string `json:"userId"`
	TenantID     string `json:"tenantId"`
}

// Adapter is the supervised-process client.
type Adapter struct {
	cfg         *config.SidecarConfig
	httpClient  *http.Client
	probeClient *http.Client
	log         *zap.SugaredLogger

	startGate chan struct{} // single-flight start guard
	cmd       *exec.Cmd    // guarded by startGate

	mu    sync.Mutex
	state State
}

func New(cfg *config.SidecarConfig) *Adapter {
	return &Adapter{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		probeClient: &http.Client{Timeout: cfg.ProbeTimeout},
		log:         core.GetLogger().With("component", "sidecar"),
		startGate:   make(chan struct{}, 1),
	}
}

// IsAvailable probes the sidecar's health endpoint with a bounded
// timeout. It never triggers a launch.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.probe(ctx) == nil
}

// State reports the supervisor's current state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Adapter) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.URL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := a.probeClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar health: status %d", resp.StatusCode)
	}
	return nil
}

// ensure makes sure a healthy sidecar is running, launching it on first
// use. The start gate admits one starter at a time; a process that is
// merely slow is polled, not relaunched.
func (a *Adapter) ensure(ctx context.Context) error {
	select {
	case a.startGate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-a.startGate }()

	if a.State() == Healthy {
		return nil
	}

	if a.probe(ctx) == nil {
		a.setState(Healthy)
		return nil
	}

	if a.cfg.Command == "" {
		a.setState(Failed)
		return fmt.Errorf("%w: not running and no launch command configured", ErrUnavailable)
	}

	if a.cmd == nil {
		a.log.Infow("Launching local NLP sidecar", "command", a.cfg.Command)
		a.setState(Starting)
		parts := strings.Fields(a.cfg.Command)
		cmd := exec.Command(parts[0], parts[1:]...)
		if err := cmd.Start(); err != nil {
			a.setState(Failed)
			return fmt.Errorf("%w: launch failed: %v", ErrUnavailable, err)
		}
		a.cmd = cmd
		go func() {
			// Reap the child so a crashed sidecar does not linger as a
			// zombie.
			_ = cmd.Wait()
		}()
	}

	for attempt := 0; attempt < a.cfg.StartupAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.StartupInterval):
		}
		if a.probe(ctx) == nil {
			a.log.Infow("Sidecar became healthy", "attempts", attempt+1)
			a.setState(Healthy)
			return nil
		}
	}

	a.setState(Failed)
	return fmt.Errorf("%w: did not become healthy after %d attempts", ErrUnavailable, a.cfg.StartupAttempts)
}

// Process classifies a request text. originalText is the user's message
// as written, parsedText the symbol-resolved rewrite.
func (a *Adapter) Process(ctx context.Context, originalText, parsedText string, chatCtx core.ChatContext) (*IntentResult, error) {
	if err := a.ensure(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	payload, err := json.Marshal(processRequest{
		OriginalText: originalText,
		ParsedText:   parsedText,
		Text:         parsedText,
		UserID:       chatCtx.UserID,
		TenantID:     chatCtx.TenantID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL+"/process", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar process: status %d", resp.StatusCode)
	}

	var result IntentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("sidecar process: decode: %w", err)
	}
	metrics.SidecarLatency.Observe(time.Since(start).Seconds())

	if result.Intent == "unknown" {
		if synthesized := a.synthesize(originalText, parsedText); synthesized != nil {
			return synthesized, nil
		}
	}
	return &result, nil
}

// Task-creation keywords recognized by the synthesis fallback, English
// and Greek, matching the sidecar's own intent patterns.
var createKeywords = []string{
	"create", "add", "new", "make", "schedule",
	"δημιούργησε", "προσθήκη", "νέα", "κάνε", "προγραμμάτισε", "φτιάξε",
}

// synthesize builds a minimal create intent when the sidecar could not
// classify the request but the text carries strong positive signals: a
// task-creation keyword together with a resolved work-order or project
// reference. This is a documented best-effort heuristic, not silent
// guessing; anything weaker stays unknown.
func (a *Adapter) synthesize(originalText, parsedText string) *IntentResult {
	lower := strings.ToLower(originalText)
	hasKeyword := false
	for _, kw := range createKeywords {
		if strings.Contains(lower, kw) {
			hasKeyword = true
			break
		}
	}
	if !hasKeyword {
		return nil
	}

	v := resolver.Validate(parsedText)
	if !v.Valid {
		return nil
	}
	var workOrder, project string
	for _, e := range v.Entities {
		switch string(e.Type) {
		case "work_order":
			workOrder = e.ID
		case "project":
			project = e.ID
		}
	}
	if workOrder == "" && project == "" {
		return nil
	}

	a.log.Infow("Sidecar could not classify, synthesizing create intent",
		"work_order", workOrder, "project", project)
	return &IntentResult{
		Intent:     "create_task",
		Title:      "New Task",
		Priority:   "medium",
		WorkOrder:  workOrder,
		Project:    project,
		Confidence: 0.5,
		Success:    true,
	}
}
