package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/realtime"
	"github.com/noah-isme/gema-community-api/internal/repository"
)

// SessionManagerConfig carries the shared collaborators of every sync session.
type SessionManagerConfig struct {
	Feed                     realtime.Feed
	Messaging                MessagingService
	Notifications            NotificationService
	Engagement               EngagementService
	Profiles                 repository.ProfileRepository
	ConversationPollInterval time.Duration
	ThreadPollInterval       time.Duration
	NotificationPollInterval time.Duration
	RetryInterval            time.Duration
	PollRate                 float64
	PollBurst                int
	PrimeTimeout             time.Duration
	Logger                   zerolog.Logger
}

// SessionManager keeps one sync session per user alive while at least one client holds it.
type SessionManager struct {
	cfg    SessionManagerConfig
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession
}

type managedSession struct {
	session *realtime.Session
	refs    int
}

// NewSessionManager constructs a session manager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.PrimeTimeout <= 0 {
		cfg.PrimeTimeout = 10 * time.Second
	}
	return &SessionManager{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "session_manager").Logger(),
		sessions: make(map[string]*managedSession),
	}
}

// Acquire returns the user's session, creating and priming it on first use. The returned
// release func must be called once the caller no longer needs the session.
func (m *SessionManager) Acquire(ctx context.Context, userID string) (*realtime.Session, func(), error) {
	m.mu.Lock()
	entry, ok := m.sessions[userID]
	if ok && entry.session.Ended() {
		delete(m.sessions, userID)
		ok = false
	}
	created := false
	if !ok {
		session, err := realtime.NewSession(m.sessionConfig(userID))
		if err != nil {
			m.mu.Unlock()
			return nil, nil, err
		}
		entry = &managedSession{session: session}
		m.sessions[userID] = entry
		created = true
	}
	entry.refs++
	session := entry.session
	m.mu.Unlock()

	if created {
		primeCtx, cancel := context.WithTimeout(ctx, m.cfg.PrimeTimeout)
		if err := session.Prime(primeCtx); err != nil {
			m.logger.Warn().Err(err).Str("user_id", userID).Msg("session prime failed; polling will catch up")
		}
		cancel()
	}

	var once sync.Once
	return session, func() {
		once.Do(func() { m.release(userID, entry) })
	}, nil
}

func (m *SessionManager) release(userID string, entry *managedSession) {
	m.mu.Lock()
	entry.refs--
	last := entry.refs <= 0
	if last && m.sessions[userID] == entry {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if last {
		entry.session.End()
	}
}

// Peek returns the user's live session without acquiring it.
func (m *SessionManager) Peek(userID string) (*realtime.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[userID]
	if !ok || entry.session.Ended() {
		return nil, false
	}
	return entry.session, true
}

// End terminates the user's session regardless of holders, as on logout.
func (m *SessionManager) End(userID string) {
	m.mu.Lock()
	entry, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if ok {
		entry.session.End()
	}
}

// Active returns the number of live sessions.
func (m *SessionManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown ends every session.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*realtime.Session, 0, len(m.sessions))
	for _, entry := range m.sessions {
		sessions = append(sessions, entry.session)
	}
	m.sessions = make(map[string]*managedSession)
	m.mu.Unlock()

	for _, session := range sessions {
		session.End()
	}
}

func (m *SessionManager) sessionConfig(userID string) realtime.SessionConfig {
	cfg := realtime.SessionConfig{
		SelfID:                   userID,
		Feed:                     m.cfg.Feed,
		Source:                   &recordSource{messaging: m.cfg.Messaging, notifications: m.cfg.Notifications},
		ConversationPollInterval: m.cfg.ConversationPollInterval,
		ThreadPollInterval:       m.cfg.ThreadPollInterval,
		NotificationPollInterval: m.cfg.NotificationPollInterval,
		RetryInterval:            m.cfg.RetryInterval,
		Reporter:                 m.reporter(userID),
		Logger:                   m.cfg.Logger,
	}
	if m.cfg.Messaging != nil && m.cfg.Notifications != nil {
		cfg.ReadStore = &readStore{messaging: m.cfg.Messaging, notifications: m.cfg.Notifications}
	}
	if m.cfg.Engagement != nil {
		cfg.Relations = m.cfg.Engagement
	}
	if m.cfg.Profiles != nil {
		cfg.Profiles = &profileSource{repo: m.cfg.Profiles}
	}
	if m.cfg.PollRate > 0 {
		burst := m.cfg.PollBurst
		if burst <= 0 {
			burst = 1
		}
		cfg.PollLimiter = rate.NewLimiter(rate.Limit(m.cfg.PollRate), burst)
	}
	return cfg
}

func (m *SessionManager) reporter(userID string) realtime.ErrorReporter {
	return realtime.ErrorReporterFunc(func(key realtime.ToggleKey, err error) {
		m.logger.Warn().Err(err).Str("user_id", userID).Str("key", key.String()).Msg("toggle failed")
	})
}

type recordSource struct {
	messaging     MessagingService
	notifications NotificationService
}

func (s *recordSource) FetchMessages(ctx context.Context, selfID string) ([]models.Message, error) {
	if s.messaging == nil {
		return nil, nil
	}
	return s.messaging.ListForUser(ctx, selfID)
}

func (s *recordSource) FetchThread(ctx context.Context, selfID, partnerID string) ([]models.Message, error) {
	if s.messaging == nil {
		return nil, nil
	}
	return s.messaging.ListThread(ctx, selfID, partnerID)
}

func (s *recordSource) FetchNotifications(ctx context.Context, selfID string) ([]models.Notification, error) {
	if s.notifications == nil {
		return nil, nil
	}
	return s.notifications.ListModels(ctx, selfID)
}

type readStore struct {
	messaging     MessagingService
	notifications NotificationService
}

func (r *readStore) MarkConversationRead(ctx context.Context, selfID, partnerID string, cutoff realtime.Version) (int64, error) {
	flipped, err := r.messaging.MarkConversationRead(ctx, selfID, partnerID, cutoff)
	return int64(len(flipped)), err
}

func (r *readStore) MarkNotificationsRead(ctx context.Context, selfID string, ids []string) (int64, error) {
	var updated int64
	for _, id := range ids {
		_, changed, err := r.notifications.MarkRead(ctx, id, selfID)
		if err != nil {
			return updated, err
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

func (r *readStore) MarkAllNotificationsRead(ctx context.Context, selfID string, cutoff realtime.Version) (int64, error) {
	flipped, err := r.notifications.MarkAllRead(ctx, selfID, cutoff)
	return int64(len(flipped)), err
}

type profileSource struct {
	repo repository.ProfileRepository
}

func (p *profileSource) Profiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	profiles, err := p.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Profile, len(profiles))
	for _, profile := range profiles {
		out[profile.ID] = profile
	}
	return out, nil
}
