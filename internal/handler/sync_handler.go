package handler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/middleware"
	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/realtime"
	"github.com/noah-isme/gema-community-api/internal/utils"
)

const (
	syncSendBufferSize = 32
	syncWriteTimeout   = 10 * time.Second
	syncCloseTimeout   = time.Second
)

// SyncHandler exposes a user's sync session over a websocket. Clients open and close views,
// toggle relations and mark records read; the server pushes snapshots and toggle results.
type SyncHandler struct {
	sessions  SessionProvider
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewSyncHandler constructs a sync handler.
func NewSyncHandler(sessions SessionProvider, validator *validator.Validate, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		sessions:  sessions,
		validator: validator,
		logger:    logger.With().Str("component", "sync_handler").Logger(),
	}
}

// Register binds the websocket upgrade route and the logout route.
func (h *SyncHandler) Register(router fiber.Router) {
	router.Delete("/session", h.EndSession)

	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("request_ctx", requestContext(c))
			c.Locals("correlation_id", middleware.GetCorrelationID(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

// EndSession tears down the caller's sync session on logout. Open sockets of the user are
// closed and the session cache is cleared.
func (h *SyncHandler) EndSession(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user id missing")
	}

	h.sessions.End(userID)
	requestLogger(h.logger, c).Info().Str("user_id", userID).Msg("sync session ended on logout")
	return utils.SendSuccess(c, "sync session ended", nil)
}

type syncClient struct {
	handler *SyncHandler
	conn    *websocket.Conn
	session *realtime.Session
	logger  zerolog.Logger
	ctx     context.Context
	out     chan dto.SyncServerFrame

	mu    sync.Mutex
	views map[string]*realtime.View
	wg    sync.WaitGroup
}

func (h *SyncHandler) handleConnection(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	session, release, err := h.sessions.Acquire(ctx, userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to acquire sync session")
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"))
		_ = conn.Close()
		return
	}
	defer release()

	correlation, _ := conn.Locals("correlation_id").(string)
	client := &syncClient{
		handler: h,
		conn:    conn,
		session: session,
		logger:  h.logger.With().Str("user_id", userID).Str("correlation_id", correlation).Logger(),
		ctx:     ctx,
		out:     make(chan dto.SyncServerFrame, syncSendBufferSize),
		views:   make(map[string]*realtime.View),
	}

	toggles, unsubscribe := session.SubscribeToggles()
	defer unsubscribe()

	expiresAt, _ := conn.Locals("token_expires_at").(time.Time)
	client.logger.Info().Msg("sync websocket connected")
	go client.writer(cancel)
	client.goForward(func() { client.watch(session.Done(), expiresAt) })
	client.goForward(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-toggles:
				if !ok {
					return
				}
				response := dto.NewRelationStateResponse(update.Key, update.State)
				client.send(dto.SyncServerFrame{Type: dto.SyncFrameToggleResult, Toggle: &response, Pending: update.Pending})
			}
		}
	})

	client.reader()

	cancel()
	client.closeViews()
	client.wg.Wait()
	client.logger.Info().Msg("sync websocket disconnected")
}

// watch closes the socket when the session ends or the token expires. Closing unblocks the
// reader, which releases the session.
func (c *syncClient) watch(sessionDone <-chan struct{}, expiresAt time.Time) {
	var expired <-chan time.Time
	if !expiresAt.IsZero() {
		timer := time.NewTimer(time.Until(expiresAt))
		defer timer.Stop()
		expired = timer.C
	}

	var reason string
	select {
	case <-c.ctx.Done():
		return
	case <-sessionDone:
		reason = "session ended"
	case <-expired:
		reason = "token expired"
	}

	c.logger.Info().Str("reason", reason).Msg("closing sync websocket")
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(syncCloseTimeout))
	_ = c.conn.Close()
}

func (c *syncClient) goForward(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *syncClient) reader() {
	for {
		var frame dto.SyncClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("sync websocket read failed")
			}
			return
		}
		if err := c.handler.validator.Struct(frame); err != nil {
			c.sendError(err)
			continue
		}
		c.dispatch(frame)

		if c.ctx.Err() != nil {
			return
		}
	}
}

func (c *syncClient) writer(cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(syncWriteTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.Debug().Err(err).Msg("sync websocket write failed")
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *syncClient) send(frame dto.SyncServerFrame) {
	select {
	case c.out <- frame:
	case <-c.ctx.Done():
	}
}

func (c *syncClient) sendError(err error) {
	c.send(dto.SyncServerFrame{Type: dto.SyncFrameError, Error: err.Error()})
}

func (c *syncClient) dispatch(frame dto.SyncClientFrame) {
	switch frame.Type {
	case dto.SyncFrameOpen:
		c.open(frame)
	case dto.SyncFrameClose:
		c.close(frame)
	case dto.SyncFrameToggle:
		c.toggle(frame)
	case dto.SyncFrameMarkRead:
		c.markRead(frame)
	}
}

func viewKey(kind, partnerID string) string {
	return kind + ":" + partnerID
}

func (c *syncClient) open(frame dto.SyncClientFrame) {
	key := viewKey(frame.View, frame.PartnerID)
	c.mu.Lock()
	_, exists := c.views[key]
	c.mu.Unlock()
	if exists {
		return
	}

	var (
		view *realtime.View
		err  error
	)
	switch realtime.ViewKind(frame.View) {
	case realtime.ViewConversations:
		view, err = c.session.OpenConversations(c.ctx)
	case realtime.ViewThread:
		view, err = c.session.OpenThread(c.ctx, strings.TrimSpace(frame.PartnerID))
	case realtime.ViewNotifications:
		view, err = c.session.OpenNotifications(c.ctx)
	default:
		err = errors.New("view is required")
	}
	if err != nil {
		c.sendError(err)
		return
	}

	c.mu.Lock()
	c.views[key] = view
	c.mu.Unlock()

	c.goForward(func() {
		for snapshot := range view.Updates() {
			c.send(dto.SyncServerFrame{Type: dto.SyncFrameSnapshot, Snapshot: dto.NewSyncSnapshot(snapshot)})
		}
	})
}

func (c *syncClient) close(frame dto.SyncClientFrame) {
	key := viewKey(frame.View, frame.PartnerID)
	c.mu.Lock()
	view, ok := c.views[key]
	delete(c.views, key)
	c.mu.Unlock()
	if ok {
		view.Close()
	}
}

func (c *syncClient) closeViews() {
	c.mu.Lock()
	views := make([]*realtime.View, 0, len(c.views))
	for key, view := range c.views {
		views = append(views, view)
		delete(c.views, key)
	}
	c.mu.Unlock()

	for _, view := range views {
		view.Close()
	}
}

// toggle runs asynchronously so a quick second toggle on the same key can supersede the first.
func (c *syncClient) toggle(frame dto.SyncClientFrame) {
	key := realtime.ToggleKey{Kind: models.RelationKind(frame.Kind), TargetID: strings.TrimSpace(frame.TargetID)}
	if !key.Kind.Valid() || key.TargetID == "" {
		c.sendError(errors.New("toggle requires kind and target_id"))
		return
	}

	c.goForward(func() {
		if _, err := c.session.Toggle(c.ctx, key); err != nil && !errors.Is(err, realtime.ErrSuperseded) && c.ctx.Err() == nil {
			c.sendError(err)
		}
	})
}

func (c *syncClient) markRead(frame dto.SyncClientFrame) {
	var run func() (int, error)
	switch {
	case frame.PartnerID != "":
		partnerID := strings.TrimSpace(frame.PartnerID)
		run = func() (int, error) { return c.session.MarkConversationRead(c.ctx, partnerID) }
	case frame.NotificationID != "":
		id := strings.TrimSpace(frame.NotificationID)
		run = func() (int, error) { return c.session.MarkNotificationRead(c.ctx, id) }
	case frame.All:
		run = func() (int, error) { return c.session.MarkAllNotificationsRead(c.ctx) }
	default:
		c.sendError(errors.New("mark_read requires partner_id, notification_id or all"))
		return
	}

	c.goForward(func() {
		if _, err := run(); err != nil && c.ctx.Err() == nil {
			c.sendError(err)
		}
	})
}
