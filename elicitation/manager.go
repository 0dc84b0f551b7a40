package elicitation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/berrykit/berry-mcp-go/mcp"
	"github.com/berrykit/berry-mcp-go/protocol"
)

// DefaultTimeout is how long a prompt waits for a human before falling back
// to its default.
const DefaultTimeout = 5 * time.Minute

// Manager correlates outbound prompts with inbound responses. It is safe for
// concurrent use; any number of prompts may be pending at once.
type Manager struct {
	engine  *protocol.Engine
	log     *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan json.RawMessage
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithTimeout overrides the default prompt timeout.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager wires a Manager to the engine: prompts go out through the
// engine's notification sender, and the elicitation/response handler is
// registered to route answers back.
func NewManager(engine *protocol.Engine, opts ...ManagerOption) *Manager {
	m := &Manager{
		engine:  engine,
		log:     slog.Default(),
		timeout: DefaultTimeout,
		pending: make(map[string]chan json.RawMessage),
	}
	for _, opt := range opts {
		opt(m)
	}

	engine.SetRequestHandler(string(mcp.ElicitationResponseMethod), m.handleResponse)
	return m
}

// responseParams is the wire shape of an elicitation/response message.
type responseParams struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}

func (m *Manager) handleResponse(ctx context.Context, params json.RawMessage, extra protocol.Extra) (any, error) {
	var resp responseParams
	if err := json.Unmarshal(params, &resp); err != nil {
		return nil, fmt.Errorf("invalid elicitation response: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("elicitation response missing prompt id")
	}

	m.mu.Lock()
	ch, ok := m.pending[resp.ID]
	if ok {
		delete(m.pending, resp.ID)
	}
	m.mu.Unlock()

	if !ok {
		// Late or unknown answer; the prompt already resolved.
		m.log.WarnContext(ctx, "elicitation.response.orphan", slog.String("prompt", resp.ID))
		return map[string]bool{"accepted": false}, nil
	}

	ch <- resp.Value
	return map[string]bool{"accepted": true}, nil
}

// Ask sends the prompt and blocks until an answer arrives, the timeout
// elapses (returning the prompt's default), or ctx is canceled.
func (m *Manager) Ask(ctx context.Context, p Prompt) (json.RawMessage, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("prompt has no id")
	}

	ch := make(chan json.RawMessage, 1)
	m.mu.Lock()
	m.pending[p.ID] = ch
	m.mu.Unlock()

	cleanup := func() {
		m.mu.Lock()
		delete(m.pending, p.ID)
		m.mu.Unlock()
	}

	if err := m.engine.SendNotification(ctx, string(mcp.ElicitationRequestMethod), p); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to send prompt: %w", err)
	}
	m.log.InfoContext(ctx, "elicitation.prompt.sent",
		slog.String("prompt", p.ID),
		slog.String("kind", string(p.Kind)))

	timer := time.NewTimer(p.timeout(m.timeout))
	defer timer.Stop()

	select {
	case value := <-ch:
		return value, nil
	case <-timer.C:
		cleanup()
		m.log.WarnContext(ctx, "elicitation.prompt.timeout", slog.String("prompt", p.ID))
		fallback, err := json.Marshal(p.Default)
		if err != nil {
			return nil, fmt.Errorf("prompt timed out and default is unusable: %w", err)
		}
		return fallback, nil
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

// Confirm asks a yes/no question.
func (m *Manager) Confirm(ctx context.Context, title, message string, defaultResponse bool) (bool, error) {
	raw, err := m.Ask(ctx, Confirmation(title, message, defaultResponse))
	if err != nil {
		return false, err
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return defaultResponse, nil
	}
	return v, nil
}

// Input asks for free text.
func (m *Manager) Input(ctx context.Context, title, message, defaultValue string) (string, error) {
	raw, err := m.Ask(ctx, TextInput(title, message, "", defaultValue))
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return defaultValue, nil
	}
	return v, nil
}

// Select asks the user to pick one of the choices, returning its value.
func (m *Manager) Select(ctx context.Context, title, message string, choices []Choice) (string, error) {
	p := SingleChoice(title, message, choices)
	raw, err := m.Ask(ctx, p)
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		d, _ := p.Default.(string)
		return d, nil
	}
	return v, nil
}

// SelectMany asks the user to pick any number of the choices, returning the
// selected values.
func (m *Manager) SelectMany(ctx context.Context, title, message string, choices []Choice) ([]string, error) {
	raw, err := m.Ask(ctx, MultiChoice(title, message, choices))
	if err != nil {
		return nil, err
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return []string{}, nil
	}
	return v, nil
}

// PendingCount reports how many prompts are awaiting an answer.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
