package session

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is a settings-dialog state
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingModel        State = "awaiting_model"
	StateAwaitingSystemPrompt State = "awaiting_system_prompt"
	StateAwaitingTemperature  State = "awaiting_temperature"
	StateAwaitingTopP         State = "awaiting_top_p"
	StateAwaitingMaxTokens    State = "awaiting_max_tokens"
)

// ErrDialogActive is returned when a dialog transition is fired while the
// user is already in a non-idle state
var ErrDialogActive = errors.New("settings dialog already in progress")

type dialog struct {
	state    State
	deadline time.Time
	timer    *time.Timer
}

// Manager tracks the settings-dialog state of each user. A user is idle
// unless a dialog entry exists; every non-idle state carries a deadline and
// reverts to idle when it passes.
type Manager struct {
	mu      sync.Mutex
	dialogs map[int64]*dialog
	timeout time.Duration
	logger  *logrus.Logger

	// onTimeout, when set, runs after a dialog is reverted by its deadline.
	// Called outside the manager lock.
	onTimeout func(userID int64)
}

// NewManager creates a dialog state manager with the given reversion timeout
func NewManager(timeout time.Duration, logger *logrus.Logger) *Manager {
	return &Manager{
		dialogs: make(map[int64]*dialog),
		timeout: timeout,
		logger:  logger,
	}
}

// OnTimeout registers a hook invoked when a dialog expires
func (m *Manager) OnTimeout(fn func(userID int64)) {
	m.mu.Lock()
	m.onTimeout = fn
	m.mu.Unlock()
}

// Begin moves the user from idle into the target state and schedules the
// timeout reversion. Firing from any non-idle state is rejected.
func (m *Manager) Begin(userID int64, target State) error {
	if target == StateIdle {
		m.Reset(userID)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if d, exists := m.dialogs[userID]; exists {
		// A dialog past its deadline no longer blocks a new one, even if its
		// timer has not fired yet.
		if time.Now().Before(d.deadline) {
			return ErrDialogActive
		}
		d.timer.Stop()
		delete(m.dialogs, userID)
	}

	d := &dialog{
		state:    target,
		deadline: time.Now().Add(m.timeout),
	}
	d.timer = time.AfterFunc(m.timeout, func() {
		m.expire(userID, d)
	})
	m.dialogs[userID] = d

	m.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"state":   target,
	}).Debug("Settings dialog started")

	return nil
}

// Current returns the user's dialog state
func (m *Manager) Current(userID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, exists := m.dialogs[userID]
	if !exists {
		return StateIdle
	}
	// A dialog observed past its deadline is never reported as active, even
	// if the timer has not fired yet.
	if time.Now().After(d.deadline) {
		return StateIdle
	}
	return d.state
}

// Reset returns the user to idle from any state, preempting the scheduled
// timeout. Safe to call for idle users.
func (m *Manager) Reset(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, exists := m.dialogs[userID]; exists {
		d.timer.Stop()
		delete(m.dialogs, userID)
	}
}

// expire reverts a dialog that hit its deadline. The pointer comparison
// guards against a timer firing for a dialog that was already reset.
func (m *Manager) expire(userID int64, d *dialog) {
	m.mu.Lock()
	current, exists := m.dialogs[userID]
	if !exists || current != d {
		m.mu.Unlock()
		return
	}
	delete(m.dialogs, userID)
	hook := m.onTimeout
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"state":   d.state,
	}).Info("Settings dialog timed out")

	if hook != nil {
		hook(userID)
	}
}
