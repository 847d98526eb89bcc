package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"pm-arb-worker/internal/history"
	"pm-arb-worker/internal/metrics"
	"pm-arb-worker/internal/state"
	"pm-arb-worker/internal/strategy"

	"go.uber.org/zap"
)

// Control actions understood by the manager.
const (
	ActionCreate           = "create"
	ActionCancel           = "cancel"
	ActionUpdateConfig     = "update_config"
	ActionRefreshPositions = "refresh_positions"
	ActionShutdown         = "shutdown"
)

// ControlMessage is the JSON payload published on the control channel.
type ControlMessage struct {
	Action string  `json:"action"`
	TaskID string  `json:"task_id,omitempty"`
	Config *Config `json:"config,omitempty"`
	Patch  *Patch  `json:"patch,omitempty"`
}

// Bus is the slice of the Redis store the manager needs. *store.Store
// satisfies it.
type Bus interface {
	EventSink
	Get(ctx context.Context, key string) ([]byte, error)
	SetAdd(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	Listen(ctx context.Context, channel string) (<-chan []byte, func() error)
}

// ManagerDeps are the process-wide collaborators shared by all tasks.
type ManagerDeps struct {
	Bus            Bus
	Venue          Venue
	Streams        StreamFactory
	Registry       *strategy.Registry
	Journal        state.Journal
	History        *history.Writer
	Alerts         FailureNotifier
	Keys           Keys
	Log            *zap.Logger
	Metrics        *metrics.Metrics
	Funder         string
	HasCredentials bool
}

// Manager owns the running task set. Each task runs under its own
// cancellable context; control handling never blocks on a task.
type Manager struct {
	deps ManagerDeps

	mu      sync.Mutex
	running map[string]*runningTask
	wg      sync.WaitGroup
}

type runningTask struct {
	task   *Task
	cancel context.CancelFunc
}

func NewManager(deps ManagerDeps) *Manager {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	return &Manager{
		deps:    deps,
		running: make(map[string]*runningTask),
	}
}

// Run subscribes the control channel, recovers persisted tasks and then
// serves control messages until ctx is cancelled or a shutdown arrives.
// The subscription opens before recovery so no control message published
// during the recovery scan is lost.
func (m *Manager) Run(ctx context.Context) error {
	controlCh, closeControl := m.deps.Bus.Listen(ctx, m.deps.Keys.Control())
	defer func() {
		if err := closeControl(); err != nil {
			m.deps.Log.Warn("control channel close failed", zap.Error(err))
		}
	}()

	m.recover(ctx)

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case payload, ok := <-controlCh:
			if !ok {
				m.shutdown()
				return fmt.Errorf("control channel closed")
			}
			if m.HandleControl(ctx, payload) {
				m.shutdown()
				return nil
			}
		}
	}
}

// recover restarts tasks whose persisted status is still active.
func (m *Manager) recover(ctx context.Context) {
	ids, err := m.deps.Bus.SetMembers(ctx, m.deps.Keys.Tasks())
	if err != nil {
		m.deps.Log.Warn("task recovery scan failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		status, err := m.deps.Bus.Get(ctx, m.deps.Keys.Status(id))
		if err != nil || !Status(status).Active() {
			continue
		}
		raw, err := m.deps.Bus.Get(ctx, m.deps.Keys.Config(id))
		if err != nil {
			m.deps.Log.Warn("recovered task has no config", zap.String("task", id))
			continue
		}
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			m.deps.Log.Warn("recovered task config unreadable", zap.String("task", id), zap.Error(err))
			continue
		}
		m.deps.Log.Info("recovering task", zap.String("task", id))
		m.start(ctx, cfg)
	}
}

// HandleControl dispatches one control message. Returns true on shutdown.
func (m *Manager) HandleControl(ctx context.Context, payload []byte) bool {
	var msg ControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.deps.Log.Warn("unreadable control message", zap.Error(err))
		return false
	}

	switch msg.Action {
	case ActionCreate:
		m.create(ctx, msg)
	case ActionCancel:
		m.cancel(msg.TaskID)
	case ActionUpdateConfig:
		m.updateConfig(ctx, msg)
	case ActionRefreshPositions:
		m.refreshPositions(msg.TaskID)
	case ActionShutdown:
		m.deps.Log.Info("shutdown requested")
		return true
	default:
		m.deps.Log.Warn("unknown control action", zap.String("action", msg.Action))
	}
	return false
}

func (m *Manager) create(ctx context.Context, msg ControlMessage) {
	if msg.Config == nil {
		m.deps.Log.Warn("create without config")
		return
	}
	cfg := *msg.Config
	if cfg.TaskID == "" {
		cfg.TaskID = msg.TaskID
	}
	if err := cfg.Validate(); err != nil {
		m.deps.Log.Warn("rejected task config", zap.Error(err))
		return
	}

	m.mu.Lock()
	_, exists := m.running[cfg.TaskID]
	m.mu.Unlock()
	if exists {
		m.deps.Log.Warn("task already running", zap.String("task", cfg.TaskID))
		return
	}

	if err := m.persistConfig(ctx, cfg); err != nil {
		m.deps.Log.Warn("task config persist failed", zap.String("task", cfg.TaskID), zap.Error(err))
		return
	}
	if err := m.deps.Bus.Set(ctx, m.deps.Keys.Status(cfg.TaskID), []byte(StatusPending), StateTTL); err != nil {
		m.deps.Log.Warn("task status persist failed", zap.String("task", cfg.TaskID), zap.Error(err))
	}
	if err := m.deps.Bus.SetAdd(ctx, m.deps.Keys.Tasks(), cfg.TaskID); err != nil {
		m.deps.Log.Warn("task set update failed", zap.String("task", cfg.TaskID), zap.Error(err))
	}
	m.start(ctx, cfg)
}

// start launches the task under the manager's lifetime, not the control
// message's.
func (m *Manager) start(ctx context.Context, cfg Config) {
	taskCtx, cancel := context.WithCancel(ctx)
	t := New(cfg, Deps{
		Venue:          m.deps.Venue,
		Streams:        m.deps.Streams,
		Sink:           m.deps.Bus,
		Registry:       m.deps.Registry,
		Journal:        m.deps.Journal,
		History:        m.deps.History,
		Alerts:         m.deps.Alerts,
		Keys:           m.deps.Keys,
		Log:            m.deps.Log,
		Metrics:        m.deps.Metrics,
		Funder:         m.deps.Funder,
		HasCredentials: m.deps.HasCredentials,
	})

	m.mu.Lock()
	m.running[cfg.TaskID] = &runningTask{task: t, cancel: cancel}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		status := t.Run(taskCtx)
		m.deps.Log.Info("task ended", zap.String("task", cfg.TaskID), zap.String("status", string(status)))
		m.mu.Lock()
		delete(m.running, cfg.TaskID)
		m.mu.Unlock()
	}()
}

func (m *Manager) cancel(taskID string) {
	m.mu.Lock()
	rt, ok := m.running[taskID]
	m.mu.Unlock()
	if !ok {
		m.deps.Log.Warn("cancel for unknown task", zap.String("task", taskID))
		return
	}
	rt.cancel()
}

func (m *Manager) updateConfig(ctx context.Context, msg ControlMessage) {
	if msg.Patch == nil {
		m.deps.Log.Warn("update_config without patch", zap.String("task", msg.TaskID))
		return
	}
	m.mu.Lock()
	rt, ok := m.running[msg.TaskID]
	m.mu.Unlock()
	if !ok {
		m.deps.Log.Warn("update_config for unknown task", zap.String("task", msg.TaskID))
		return
	}
	merged := rt.task.UpdateConfig(msg.Patch)
	if err := m.persistConfig(ctx, merged); err != nil {
		m.deps.Log.Warn("merged config persist failed", zap.String("task", msg.TaskID), zap.Error(err))
	}
}

func (m *Manager) refreshPositions(taskID string) {
	m.mu.Lock()
	rt, ok := m.running[taskID]
	m.mu.Unlock()
	if !ok {
		m.deps.Log.Warn("refresh_positions for unknown task", zap.String("task", taskID))
		return
	}
	rt.task.RefreshPositions()
}

func (m *Manager) persistConfig(ctx context.Context, cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return m.deps.Bus.Set(ctx, m.deps.Keys.Config(cfg.TaskID), raw, StateTTL)
}

// shutdown cancels every running task and waits for them to report their
// terminal status.
func (m *Manager) shutdown() {
	m.mu.Lock()
	for _, rt := range m.running {
		rt.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		m.deps.Log.Warn("tasks did not stop in time")
	}
}
