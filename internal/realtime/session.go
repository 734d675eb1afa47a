package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/observability"
)

const (
	defaultQueueSize            = 256
	defaultConversationInterval = 20 * time.Second
	defaultThreadInterval       = 20 * time.Second
	defaultNotificationInterval = 15 * time.Second
	toggleBufferSize            = 16
)

var (
	// ErrSessionEnded is returned by operations on a session that was ended.
	ErrSessionEnded = errors.New("sync session ended")
	// ErrMissingSelf indicates a session was requested without an authenticated user.
	ErrMissingSelf = errors.New("sync session requires a user id")
)

// Source reads full record sets from the relational store.
type Source interface {
	FetchMessages(ctx context.Context, selfID string) ([]models.Message, error)
	FetchThread(ctx context.Context, selfID, partnerID string) ([]models.Message, error)
	FetchNotifications(ctx context.Context, selfID string) ([]models.Notification, error)
}

// ProfileSource resolves partner profiles for conversation summaries.
type ProfileSource interface {
	Profiles(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

// SessionConfig carries the collaborators of one session explicitly.
type SessionConfig struct {
	SelfID                   string
	Feed                     Feed
	Source                   Source
	ReadStore                ReadStore
	Relations                RelationStore
	Profiles                 ProfileSource
	Reporter                 ErrorReporter
	ConversationPollInterval time.Duration
	ThreadPollInterval       time.Duration
	NotificationPollInterval time.Duration
	RetryInterval            time.Duration
	PollLimiter              *rate.Limiter
	QueueSize                int
	Logger                   zerolog.Logger
}

// ViewKind names the screens a client can open.
type ViewKind string

const (
	ViewConversations ViewKind = "conversations"
	ViewThread        ViewKind = "thread"
	ViewNotifications ViewKind = "notifications"
)

// Snapshot is the reconciled state pushed to a view after every change.
type Snapshot struct {
	View                ViewKind              `json:"view"`
	PartnerID           string                `json:"partner_id,omitempty"`
	Conversations       []ConversationSummary `json:"conversations,omitempty"`
	Thread              []models.Message      `json:"thread,omitempty"`
	Notifications       []models.Notification `json:"notifications,omitempty"`
	UnreadMessages      int                   `json:"unread_messages"`
	UnreadNotifications int                   `json:"unread_notifications"`
}

// Session is the sync core for one authenticated user. Listener and poller goroutines are
// producers on one queue; a single loop applies the queue to the cache.
type Session struct {
	cfg        SessionConfig
	selfID     string
	cache      *Cache
	reconciler *Reconciler
	toggler    *Toggler
	queue      chan ChangeEvent
	logger     zerolog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	mu       sync.Mutex
	views    map[*View]struct{}
	toggles  map[chan ToggleUpdate]struct{}
	profiles map[string]models.Profile
	lookups  map[string]struct{}
	ended    bool

	publishMu sync.Mutex
}

// NewSession constructs a session and starts its apply loop.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.SelfID == "" {
		return nil, ErrMissingSelf
	}
	if cfg.Source == nil {
		return nil, errors.New("sync session requires a source")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.ConversationPollInterval <= 0 {
		cfg.ConversationPollInterval = defaultConversationInterval
	}
	if cfg.ThreadPollInterval <= 0 {
		cfg.ThreadPollInterval = defaultThreadInterval
	}
	if cfg.NotificationPollInterval <= 0 {
		cfg.NotificationPollInterval = defaultNotificationInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger.With().Str("component", "realtime_session").Str("user_id", cfg.SelfID).Logger()

	s := &Session{
		cfg:      cfg,
		selfID:   cfg.SelfID,
		cache:    NewCache(),
		queue:    make(chan ChangeEvent, cfg.QueueSize),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
		views:    make(map[*View]struct{}),
		toggles:  make(map[chan ToggleUpdate]struct{}),
		profiles: make(map[string]models.Profile),
		lookups:  make(map[string]struct{}),
	}
	if cfg.ReadStore != nil {
		s.reconciler = NewReconciler(cfg.SelfID, s.cache, cfg.ReadStore, cfg.Logger)
	}
	if cfg.Relations != nil {
		s.toggler = NewToggler(cfg.Relations, cfg.Reporter, s.broadcastToggle, cfg.Logger)
	}

	observability.RealtimeSessions().Inc()
	go s.loop()
	return s, nil
}

// SelfID returns the user the session belongs to.
func (s *Session) SelfID() string {
	return s.selfID
}

// Cache exposes the session cache for read-only inspection.
func (s *Session) Cache() *Cache {
	return s.cache
}

// Apply enqueues a locally produced change, such as the echo of a message this user sent.
func (s *Session) Apply(ctx context.Context, event ChangeEvent) bool {
	if event.Source == "" {
		event.Source = SourceLocal
	}
	return s.enqueue(ctx, event)
}

func (s *Session) enqueue(ctx context.Context, event ChangeEvent) bool {
	if ctx.Err() != nil || s.ctx.Err() != nil {
		return false
	}
	select {
	case s.queue <- event:
		return true
	case <-ctx.Done():
		return false
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) loop() {
	defer close(s.loopDone)

	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			var barriers []chan struct{}
			changed := s.handle(event, &barriers)
		drain:
			for {
				select {
				case next := <-s.queue:
					if s.handle(next, &barriers) {
						changed = true
					}
				default:
					break drain
				}
			}
			if changed {
				s.publish()
			}
			for _, barrier := range barriers {
				close(barrier)
			}
		}
	}
}

func (s *Session) handle(event ChangeEvent, barriers *[]chan struct{}) bool {
	if event.applied != nil {
		*barriers = append(*barriers, event.applied)
		return false
	}
	return s.applyOne(event)
}

// applyAll queues events behind the feed and poll producers and waits until the loop has
// applied and published them.
func (s *Session) applyAll(ctx context.Context, events []ChangeEvent) error {
	for _, event := range events {
		if !s.enqueue(ctx, event) {
			return s.interrupted(ctx)
		}
	}
	applied := make(chan struct{})
	if !s.enqueue(ctx, ChangeEvent{applied: applied}) {
		return s.interrupted(ctx)
	}
	select {
	case <-applied:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionEnded
	}
}

func (s *Session) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrSessionEnded
}

func (s *Session) applyOne(event ChangeEvent) bool {
	changed := s.cache.Apply(event)
	outcome := "duplicate"
	if changed {
		outcome = "applied"
	}
	observability.RealtimeEvents().WithLabelValues(string(event.Record), string(event.Source), outcome).Inc()
	return changed
}

// Prime fetches messages and notifications concurrently and merges them into the cache.
func (s *Session) Prime(ctx context.Context) error {
	var messages []models.Message
	var notifications []models.Notification

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		messages, err = s.cfg.Source.FetchMessages(groupCtx, s.selfID)
		return err
	})
	group.Go(func() error {
		var err error
		notifications, err = s.cfg.Source.FetchNotifications(groupCtx, s.selfID)
		return err
	})
	if err := group.Wait(); err != nil {
		return err
	}

	events := messageEvents(messages)
	for _, notification := range notifications {
		events = append(events, NotificationEvent(ChangeUpdate, SourcePoll, notification))
	}
	return s.applyAll(ctx, events)
}

// OpenConversations opens the conversation list view.
func (s *Session) OpenConversations(ctx context.Context) (*View, error) {
	scope := Scope{SelfID: s.selfID, Records: []RecordKind{RecordMessage}}
	fetch := func(ctx context.Context) ([]ChangeEvent, error) {
		messages, err := s.cfg.Source.FetchMessages(ctx, s.selfID)
		if err != nil {
			return nil, err
		}
		return messageEvents(messages), nil
	}
	return s.open(ctx, ViewConversations, "", scope, s.cfg.ConversationPollInterval, fetch, nil)
}

// OpenThread opens one conversation and marks it read once the thread is loaded.
func (s *Session) OpenThread(ctx context.Context, partnerID string) (*View, error) {
	if partnerID == "" {
		return nil, errors.New("thread view requires a partner id")
	}
	scope := Scope{SelfID: s.selfID, PartnerID: partnerID, Records: []RecordKind{RecordMessage}}
	fetch := func(ctx context.Context) ([]ChangeEvent, error) {
		messages, err := s.cfg.Source.FetchThread(ctx, s.selfID, partnerID)
		if err != nil {
			return nil, err
		}
		return messageEvents(messages), nil
	}
	var markRead func(context.Context)
	if s.reconciler != nil {
		markRead = func(viewCtx context.Context) {
			events, err := fetch(viewCtx)
			if err == nil {
				err = s.applyAll(viewCtx, events)
			}
			if err != nil {
				if viewCtx.Err() == nil {
					s.logger.Debug().Err(err).Str("partner_id", partnerID).Msg("thread load on open failed")
				}
				return
			}
			if _, err := s.MarkConversationRead(viewCtx, partnerID); err != nil && viewCtx.Err() == nil {
				s.logger.Debug().Err(err).Str("partner_id", partnerID).Msg("mark read on open failed")
			}
		}
	}
	return s.open(ctx, ViewThread, partnerID, scope, s.cfg.ThreadPollInterval, fetch, markRead)
}

// OpenNotifications opens the notification list view.
func (s *Session) OpenNotifications(ctx context.Context) (*View, error) {
	scope := Scope{SelfID: s.selfID, Records: []RecordKind{RecordNotification}}
	fetch := func(ctx context.Context) ([]ChangeEvent, error) {
		notifications, err := s.cfg.Source.FetchNotifications(ctx, s.selfID)
		if err != nil {
			return nil, err
		}
		events := make([]ChangeEvent, 0, len(notifications))
		for _, notification := range notifications {
			events = append(events, NotificationEvent(ChangeUpdate, SourcePoll, notification))
		}
		return events, nil
	}
	return s.open(ctx, ViewNotifications, "", scope, s.cfg.NotificationPollInterval, fetch, nil)
}

func messageEvents(messages []models.Message) []ChangeEvent {
	events := make([]ChangeEvent, 0, len(messages))
	for _, message := range messages {
		events = append(events, MessageEvent(ChangeUpdate, SourcePoll, message))
	}
	return events
}

// open starts the view's listener and poller, plus onOpen when set. All of them are tied to
// the view context and waited for on Close.
func (s *Session) open(ctx context.Context, kind ViewKind, partnerID string, scope Scope, interval time.Duration, fetch FetchFunc, onOpen func(context.Context)) (*View, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil, ErrSessionEnded
	}

	viewCtx, cancel := context.WithCancel(s.ctx)
	view := &View{
		session:   s,
		kind:      kind,
		partnerID: partnerID,
		updates:   make(chan Snapshot, 1),
		ctx:       viewCtx,
		cancel:    cancel,
	}
	s.views[view] = struct{}{}
	s.mu.Unlock()

	label := string(kind)
	observability.RealtimeViews().WithLabelValues(label).Inc()

	listener := NewListener(s.cfg.Feed, scope, s.enqueue, s.cfg.RetryInterval, label, s.logger)
	poller := NewPoller(interval, fetch, s.enqueue, s.cfg.PollLimiter, label, s.logger)

	view.wg.Add(2)
	go func() {
		defer view.wg.Done()
		listener.Run(viewCtx)
	}()
	go func() {
		defer view.wg.Done()
		poller.Run(viewCtx)
	}()
	if onOpen != nil {
		view.wg.Add(1)
		go func() {
			defer view.wg.Done()
			onOpen(viewCtx)
		}()
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				view.Close()
			case <-viewCtx.Done():
			}
		}()
	}

	view.push(s.snapshot(kind, partnerID))
	return view, nil
}

func (s *Session) removeView(view *View) {
	s.mu.Lock()
	_, ok := s.views[view]
	delete(s.views, view)
	s.mu.Unlock()
	if ok {
		observability.RealtimeViews().WithLabelValues(string(view.kind)).Dec()
	}
}

func (s *Session) publish() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	views := make([]*View, 0, len(s.views))
	for view := range s.views {
		views = append(views, view)
	}
	s.mu.Unlock()

	for _, view := range views {
		view.push(s.snapshot(view.kind, view.partnerID))
	}
}

func (s *Session) snapshot(kind ViewKind, partnerID string) Snapshot {
	summaries := Aggregate(s.cache.Messages(), s.selfID)
	snapshot := Snapshot{
		View:                kind,
		PartnerID:           partnerID,
		UnreadMessages:      TotalUnread(summaries),
		UnreadNotifications: s.cache.UnreadNotifications(s.selfID),
	}

	switch kind {
	case ViewConversations:
		snapshot.Conversations = s.attachProfiles(summaries)
	case ViewThread:
		snapshot.Thread = s.cache.Thread(s.selfID, partnerID)
	case ViewNotifications:
		snapshot.Notifications = s.cache.Notifications(s.selfID)
	}
	return snapshot
}

// attachProfiles fills known profiles and schedules lookups for unknown partners; lookups
// never block the publish path.
func (s *Session) attachProfiles(summaries []ConversationSummary) []ConversationSummary {
	if s.cfg.Profiles == nil {
		return summaries
	}

	missing := make([]string, 0)
	s.mu.Lock()
	for i := range summaries {
		if profile, ok := s.profiles[summaries[i].PartnerID]; ok {
			p := profile
			summaries[i].PartnerProfile = &p
			continue
		}
		if _, pending := s.lookups[summaries[i].PartnerID]; !pending {
			s.lookups[summaries[i].PartnerID] = struct{}{}
			missing = append(missing, summaries[i].PartnerID)
		}
	}
	s.mu.Unlock()

	if len(missing) > 0 {
		go s.resolveProfiles(missing)
	}
	return summaries
}

func (s *Session) resolveProfiles(ids []string) {
	profiles, err := s.cfg.Profiles.Profiles(s.ctx, ids)

	s.mu.Lock()
	for _, id := range ids {
		delete(s.lookups, id)
	}
	if err == nil {
		for id, profile := range profiles {
			s.profiles[id] = profile
		}
	}
	s.mu.Unlock()

	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Debug().Err(err).Msg("profile lookup failed")
		}
		return
	}
	if len(profiles) > 0 {
		s.publish()
	}
}

// Conversations returns the current conversation summaries.
func (s *Session) Conversations() []ConversationSummary {
	return s.attachProfiles(Aggregate(s.cache.Messages(), s.selfID))
}

// Thread returns the cached messages exchanged with partner.
func (s *Session) Thread(partnerID string) []models.Message {
	return s.cache.Thread(s.selfID, partnerID)
}

// Notifications returns cached notifications, newest first.
func (s *Session) Notifications() []models.Notification {
	return s.cache.Notifications(s.selfID)
}

// UnreadCount returns unread messages from partner.
func (s *Session) UnreadCount(partnerID string) int {
	return len(s.cache.UnreadFrom(s.selfID, partnerID))
}

// ReadState returns the read state of the conversation with partner.
func (s *Session) ReadState(partnerID string) ReadState {
	if s.UnreadCount(partnerID) == 0 {
		return ReadStateClean
	}
	return ReadStateDirty
}

// MarkConversationRead reconciles the conversation with partner.
func (s *Session) MarkConversationRead(ctx context.Context, partnerID string) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if s.reconciler == nil {
		return 0, errors.New("sync session has no read store")
	}
	flipped, err := s.reconciler.MarkConversationRead(ctx, partnerID)
	if err == nil && flipped > 0 {
		s.publish()
	}
	return flipped, err
}

// MarkNotificationRead marks a single notification read.
func (s *Session) MarkNotificationRead(ctx context.Context, notificationID string) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if s.reconciler == nil {
		return 0, errors.New("sync session has no read store")
	}
	flipped, err := s.reconciler.MarkNotificationRead(ctx, notificationID)
	if err == nil && flipped > 0 {
		s.publish()
	}
	return flipped, err
}

// MarkAllNotificationsRead marks every cached unread notification read.
func (s *Session) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if s.reconciler == nil {
		return 0, errors.New("sync session has no read store")
	}
	flipped, err := s.reconciler.MarkAllNotificationsRead(ctx)
	if err == nil && flipped > 0 {
		s.publish()
	}
	return flipped, err
}

// Toggle applies an optimistic relation toggle.
func (s *Session) Toggle(ctx context.Context, key ToggleKey) (ToggleState, error) {
	if err := s.usable(); err != nil {
		return ToggleState{}, err
	}
	if s.toggler == nil {
		return ToggleState{}, errors.New("sync session has no relation store")
	}
	key.ActorID = s.selfID
	return s.toggler.Toggle(ctx, key)
}

// ToggleState returns the displayed state of key, loading it from the store when unknown.
func (s *Session) ToggleState(ctx context.Context, key ToggleKey) (ToggleState, error) {
	if err := s.usable(); err != nil {
		return ToggleState{}, err
	}
	if s.toggler == nil {
		return ToggleState{}, errors.New("sync session has no relation store")
	}
	key.ActorID = s.selfID
	if state, ok := s.toggler.State(key); ok {
		return state, nil
	}
	return s.toggler.Load(ctx, key)
}

// SubscribeToggles streams toggle updates until the returned cleanup is called.
func (s *Session) SubscribeToggles() (<-chan ToggleUpdate, func()) {
	ch := make(chan ToggleUpdate, toggleBufferSize)

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.toggles[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.toggles[ch]; ok {
				delete(s.toggles, ch)
				close(ch)
			}
		})
	}
}

func (s *Session) broadcastToggle(update ToggleUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.toggles {
		select {
		case ch <- update:
		default:
			s.logger.Warn().Str("key", update.Key.String()).Msg("dropping toggle update for slow subscriber")
		}
	}
}

func (s *Session) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionEnded
	}
	return nil
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Ended reports whether End was called.
func (s *Session) Ended() bool {
	return s.usable() != nil
}

// End tears down every view, stops the apply loop and clears the cache. It is used both for
// logout and for session loss.
func (s *Session) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	views := make([]*View, 0, len(s.views))
	for view := range s.views {
		views = append(views, view)
	}
	s.mu.Unlock()

	for _, view := range views {
		view.Close()
	}

	s.cancel()
	<-s.loopDone

	if s.toggler != nil {
		s.toggler.Reset()
	}
	s.cache.Clear()

	s.mu.Lock()
	for ch := range s.toggles {
		close(ch)
	}
	s.toggles = make(map[chan ToggleUpdate]struct{})
	s.profiles = make(map[string]models.Profile)
	s.mu.Unlock()

	observability.RealtimeSessions().Dec()
	s.logger.Debug().Msg("sync session ended")
}

// View is one open screen. Updates delivers the latest snapshot; older undelivered snapshots
// are replaced rather than queued.
type View struct {
	session   *Session
	kind      ViewKind
	partnerID string
	updates   chan Snapshot
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// Kind returns the view kind.
func (v *View) Kind() ViewKind {
	return v.kind
}

// PartnerID returns the thread partner for thread views.
func (v *View) PartnerID() string {
	return v.partnerID
}

// Updates streams snapshots; the channel is closed when the view closes.
func (v *View) Updates() <-chan Snapshot {
	return v.updates
}

// Done is closed when the view's subscriptions are torn down.
func (v *View) Done() <-chan struct{} {
	return v.ctx.Done()
}

func (v *View) push(snapshot Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	select {
	case v.updates <- snapshot:
		return
	default:
	}
	select {
	case <-v.updates:
	default:
	}
	select {
	case v.updates <- snapshot:
	default:
	}
}

// Close tears down the view's listener and poller.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.cancel()
		v.wg.Wait()
		v.session.removeView(v)

		v.mu.Lock()
		v.closed = true
		close(v.updates)
		v.mu.Unlock()
	})
}
