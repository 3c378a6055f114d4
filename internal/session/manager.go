package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marrowlabs/ferryman/internal/config"
	"github.com/marrowlabs/ferryman/internal/logger"
	"github.com/marrowlabs/ferryman/internal/metrics"
	"github.com/marrowlabs/ferryman/internal/proc"
	"github.com/marrowlabs/ferryman/internal/spawn"
	"github.com/marrowlabs/ferryman/internal/wire"
)

// Info is one row in the session listing.
type Info struct {
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	WorkDir        string    `json:"workDir,omitempty"`
	TranscriptPath string    `json:"transcriptPath,omitempty"`
	MessageCount   int       `json:"messageCount"`
	Modified       time.Time `json:"modified,omitzero"`
	Live           bool      `json:"live"`
	Status         string    `json:"status,omitempty"`
}

// Manager owns the live session map and the create/load/resume/fork
// lifecycle. One agent subprocess per session.
type Manager struct {
	cfg      *config.Config
	launcher spawn.Launcher
	notifier Notifier
	archiver TurnArchiver
	index    *pathIndex

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wires the session directory. archiver may be nil.
func NewManager(cfg *config.Config, launcher spawn.Launcher, notifier Notifier, archiver TurnArchiver) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Manager{
		cfg:      cfg,
		launcher: launcher,
		notifier: notifier,
		archiver: archiver,
		index:    newPathIndex(cfg.IndexPath()),
		sessions: make(map[string]*Session),
	}
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}
	return s, nil
}

// Create spawns a fresh session bound to workDir.
func (m *Manager) Create(ctx context.Context, workDir string) (*Session, error) {
	s, err := m.spawn(ctx, uuid.NewString(), workDir)
	if err != nil {
		return nil, err
	}
	if err := s.bootstrap(ctx); err != nil {
		m.teardown(s)
		return nil, err
	}
	m.register(s)

	// Initial config notifications are deferred so the client processes
	// the creation response before the first session/update arrives.
	go s.notifyConfig()
	return s, nil
}

// Load attaches a new subprocess to an existing transcript and replays
// its full history to the client.
func (m *Manager) Load(ctx context.Context, id, workDir string) (*Session, error) {
	s, err := m.attach(ctx, id, workDir)
	if err != nil {
		return nil, err
	}
	if err := s.replayHistory(ctx); err != nil {
		logger.Error("session %s: history replay: %v", id, err)
	}
	return s, nil
}

// Resume is Load without the history replay.
func (m *Manager) Resume(ctx context.Context, id, workDir string) (*Session, error) {
	return m.attach(ctx, id, workDir)
}

// Fork copies the source session's transcript under a fresh id with a
// back-reference to its parent, then loads the copy.
func (m *Manager) Fork(ctx context.Context, srcID, workDir string) (*Session, error) {
	srcPath, err := m.resolvePath(srcID)
	if err != nil {
		return nil, err
	}

	newID := uuid.NewString()
	// The copy lands under the caller's working directory; the session
	// dir is only the default for detached forks.
	destDir := workDir
	if destDir == "" {
		destDir = m.cfg.Agent.SessionDir
	}
	destPath, err := forkTranscript(srcPath, destDir, newID)
	if err != nil {
		return nil, err
	}
	if err := m.index.Record(newID, destPath); err != nil {
		logger.Error("session %s: persist fork mapping: %v", newID, err)
	}

	s, err := m.attachPath(ctx, newID, destPath, workDir)
	if err != nil {
		return nil, err
	}
	if err := s.replayHistory(ctx); err != nil {
		logger.Error("session %s: history replay: %v", newID, err)
	}
	return s, nil
}

// Prompt forwards one prompt to a live session and waits for its stop
// reason.
func (m *Manager) Prompt(ctx context.Context, id, text string, images []wire.ImageAttachment) (StopReason, error) {
	s, err := m.Get(id)
	if err != nil {
		return "", err
	}
	return s.Prompt(ctx, text, images)
}

// Cancel aborts the running prompt of a live session.
func (m *Manager) Cancel(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Cancel()
	return nil
}

// SetOption mutates one config option on a live session.
func (m *Manager) SetOption(ctx context.Context, id, option, value string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.SetOption(ctx, option, value)
}

// SetModel switches a live session's model.
func (m *Manager) SetModel(ctx context.Context, id, token string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.SetModel(ctx, token)
}

// Steer delivers mid-run input to a live session.
func (m *Manager) Steer(id, text string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Steer(text)
}

// FollowUp queues input for after the current run on a live session.
func (m *Manager) FollowUp(id, text string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.FollowUp(text)
}

// List merges live sessions with everything known on disk.
func (m *Manager) List() []Info {
	byID := make(map[string]Info)

	for id, path := range m.index.Snapshot() {
		byID[id] = Info{ID: id, TranscriptPath: path}
	}
	if dir := m.cfg.Agent.SessionDir; dir != "" {
		discovered := scanTranscriptDir(dir)
		if err := m.index.Merge(discovered); err != nil {
			logger.Error("merge discovered sessions: %v", err)
		}
		for id, path := range discovered {
			byID[id] = Info{ID: id, TranscriptPath: path}
		}
	}

	// Enrich with transcript metadata, best effort.
	for id, info := range byID {
		if meta, err := readTranscriptMeta(info.TranscriptPath); err == nil {
			info.Title = meta.Title
			info.WorkDir = meta.Cwd
			info.MessageCount = meta.MessageCount
			info.Modified = meta.Modified
			byID[id] = info
		}
	}

	m.mu.Lock()
	for id, s := range m.sessions {
		info := byID[id]
		info.ID = id
		info.Live = true
		info.WorkDir = s.WorkDir
		info.Status = s.Status().State
		if t := s.Title(); t != "" {
			info.Title = t
		}
		if p := s.TranscriptPath(); p != "" {
			info.TranscriptPath = p
		}
		byID[id] = info
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(byID))
	for _, info := range byID {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].ID < out[j].ID
		}
		return out[i].Modified.After(out[j].Modified)
	})
	return out
}

// ReconcileIndex folds transcripts found on disk into the persisted
// id-to-path map. Run periodically by the maintenance scheduler.
func (m *Manager) ReconcileIndex() error {
	dir := m.cfg.Agent.SessionDir
	if dir == "" {
		return nil
	}
	return m.index.Merge(scanTranscriptDir(dir))
}

// Shutdown terminates every live subprocess.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range live {
		s.Close()
		metrics.RecordSessionEnd()
	}
}

// attach resolves a session id to its transcript and binds a fresh
// subprocess to it.
func (m *Manager) attach(ctx context.Context, id, workDir string) (*Session, error) {
	// Already live: reuse the running subprocess.
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	path, err := m.resolvePath(id)
	if err != nil {
		return nil, err
	}
	return m.attachPath(ctx, id, path, workDir)
}

func (m *Manager) attachPath(ctx context.Context, id, path, workDir string) (*Session, error) {
	if workDir == "" {
		if meta, err := readTranscriptMeta(path); err == nil {
			workDir = meta.Cwd
		}
	}

	s, err := m.spawn(ctx, id, workDir)
	if err != nil {
		return nil, err
	}
	if err := s.switchTranscript(ctx, path); err != nil {
		m.teardown(s)
		return nil, err
	}
	if err := s.refreshModels(ctx); err != nil {
		logger.Error("session %s: fetch models: %v", id, err)
	}
	m.register(s)
	go s.notifyConfig()
	return s, nil
}

// resolvePath finds a session's transcript: live sessions first, then the
// persisted index, then a full directory scan merged back into the index.
func (m *Manager) resolvePath(id string) (string, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		if path := s.TranscriptPath(); path != "" {
			return path, nil
		}
	} else {
		m.mu.Unlock()
	}

	if path, ok := m.index.Lookup(id); ok {
		return path, nil
	}

	if dir := m.cfg.Agent.SessionDir; dir != "" {
		discovered := scanTranscriptDir(dir)
		if err := m.index.Merge(discovered); err != nil {
			logger.Error("merge discovered sessions: %v", err)
		}
		if path, ok := discovered[id]; ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSession, id)
}

func (m *Manager) spawn(ctx context.Context, id, workDir string) (*Session, error) {
	s := &Session{
		ID:             id,
		WorkDir:        workDir,
		notifier:       m.notifier,
		tools:          newToolTracker(workDir),
		models:         newModelCatalog(),
		archiver:       m.archiver,
		requestTimeout: m.cfg.RequestTimeout(),
		replayTimeout:  m.cfg.ReplayTimeout(),
		heartbeat:      m.cfg.HeartbeatInterval(),
	}
	s.status = newStatusReporter(id, m.notifier, m.cfg.Capabilities.StatusUpdates)
	s.onTranscriptPath = func(sessionID, path string) {
		if err := m.index.Record(sessionID, path); err != nil {
			logger.Error("session %s: persist transcript mapping: %v", sessionID, err)
		}
	}

	cmd := append([]string{m.cfg.Agent.Command}, m.cfg.Agent.Args...)
	p, err := m.launcher.Launch(ctx, cmd, m.cfg.AgentEnv(), workDir)
	if err != nil {
		return nil, fmt.Errorf("spawn agent: %w", err)
	}

	client := proc.New(p, s.handleEvent, func(code int, procErr error) {
		s.handleExit(code, procErr)
		m.remove(id)
	})
	s.setClient(client)

	logger.Info("session %s: spawned agent via %s in %s", id, m.launcher.Name(), workDir)
	return s, nil
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	metrics.RecordSessionStart()
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		metrics.RecordSessionEnd()
	}
}

func (m *Manager) teardown(s *Session) {
	s.Close()
}
