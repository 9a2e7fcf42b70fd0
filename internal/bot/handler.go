package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/fleet"
	"github.com/zulandar/motorpool/internal/identity"
	"github.com/zulandar/motorpool/internal/logging"
	"github.com/zulandar/motorpool/internal/notify"
	"github.com/zulandar/motorpool/internal/session"
	"github.com/zulandar/motorpool/internal/workflow"
	"go.uber.org/zap"
)

const statusListLimit = 10

// Handler routes commands, session input and button presses.
type Handler struct {
	engine   *workflow.Engine
	sessions session.Store
	dir      *identity.Directory
	fleet    *fleet.Store
	notify   *notify.Dispatcher
	log      *zap.Logger

	locks userLocks
}

// HandlerOpts holds parameters for creating a Handler.
type HandlerOpts struct {
	Engine     *workflow.Engine
	Sessions   session.Store
	Directory  *identity.Directory
	Fleet      *fleet.Store
	Dispatcher *notify.Dispatcher
	Logger     *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(opts HandlerOpts) (*Handler, error) {
	switch {
	case opts.Engine == nil:
		return nil, fmt.Errorf("bot: engine is required")
	case opts.Sessions == nil:
		return nil, fmt.Errorf("bot: session store is required")
	case opts.Directory == nil:
		return nil, fmt.Errorf("bot: directory is required")
	case opts.Fleet == nil:
		return nil, fmt.Errorf("bot: fleet store is required")
	case opts.Dispatcher == nil:
		return nil, fmt.Errorf("bot: dispatcher is required")
	}
	return &Handler{
		engine:   opts.Engine,
		sessions: opts.Sessions,
		dir:      opts.Directory,
		fleet:    opts.Fleet,
		notify:   opts.Dispatcher,
		log:      logging.OrNop(opts.Logger),
	}, nil
}

// Handle processes one inbound event. Events from the same user are handled
// one at a time so a session is never advanced twice concurrently.
func (h *Handler) Handle(ctx context.Context, evt chat.Event) {
	if evt.UserID == "" {
		return
	}
	unlock := h.locks.lock(evt.UserID)
	defer unlock()

	if evt.Kind == chat.EventCallback {
		h.handleCallback(ctx, evt)
		return
	}
	text := strings.TrimSpace(evt.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		h.handleCommand(ctx, evt, text)
		return
	}
	h.handleInput(ctx, evt, text)
}

// parseCommand splits "/cmd@botname arg ..." into a lowercase command and its
// arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:]
}

func (h *Handler) handleCommand(ctx context.Context, evt chat.Event, text string) {
	cmd, args := parseCommand(text)
	loggerFrom(ctx, h.log).Info("command", zap.String("command", cmd))

	switch cmd {
	case "start":
		h.cmdStart(ctx, evt)
		return
	case "cancel":
		if len(args) == 0 {
			h.clearSession(ctx, evt.UserID)
			h.reply(ctx, evt, "Operation cancelled.", nil)
			return
		}
	case "help":
		p, err := h.dir.Authenticate(ctx, evt.UserID)
		if err != nil {
			h.reply(ctx, evt, helpText(""), nil)
			return
		}
		h.reply(ctx, evt, helpText(p.Role), nil)
		return
	}

	p, ok := h.authenticate(ctx, evt)
	if !ok {
		return
	}
	switch cmd {
	case "cancel":
		h.cmdCancelRequest(ctx, evt, p, strings.ToUpper(args[0]))
	case "request":
		h.cmdRequest(ctx, evt, p)
	case "status":
		h.cmdStatus(ctx, evt, p)
	case "vehicles":
		h.cmdVehicles(ctx, evt)
	case "addvehicle":
		if h.require(ctx, evt, p, identity.RoleInspector) {
			h.startSession(ctx, evt, session.VehiclePrefix{}, "New vehicle. Enter the prefix (for example VTR006):")
		}
	case "vehiclestatus":
		if h.require(ctx, evt, p, identity.RoleInspector) {
			h.cmdVehicleStatus(ctx, evt)
		}
	case "adduser":
		if h.require(ctx, evt, p, identity.RoleInspector) {
			h.startSession(ctx, evt, session.EnrollCPF{}, "New user. Enter their CPF (11 digits):")
		}
	default:
		h.reply(ctx, evt, "Unknown command. Send /help to see what I can do.", nil)
	}
}

// handleInput feeds free text to the step the user's session is waiting on.
func (h *Handler) handleInput(ctx context.Context, evt chat.Event, text string) {
	sess, ok := h.loadSession(ctx, evt)
	if !ok {
		return
	}
	if sess == nil {
		h.reply(ctx, evt, "Send /help to see what I can do.", nil)
		return
	}

	switch st := sess.State.(type) {
	case session.LoginCPF, session.LoginRegistration, session.LoginName:
		h.loginInput(ctx, evt, st, text)
		return
	}

	p, ok := h.authenticate(ctx, evt)
	if !ok {
		return
	}
	switch st := sess.State.(type) {
	case session.EnrollCPF, session.EnrollRegistration, session.EnrollRole:
		h.enrollInput(ctx, evt, p, st, text)
	case session.RequestTerms, session.RequestDate, session.RequestTime, session.RequestReason:
		h.requestInput(ctx, evt, p, st, text)
	case session.VehiclePrefix, session.VehicleName, session.VehicleModel,
		session.VehiclePlate, session.VehicleOdometer, session.VehicleStatus:
		h.vehicleInput(ctx, evt, p, st, text)
	case session.StartOdometer, session.EndOdometer:
		h.odometerInput(ctx, evt, p, st, text)
	default:
		h.clearSession(ctx, evt.UserID)
		h.reply(ctx, evt, "Send /help to see what I can do.", nil)
	}
}

// authenticate resolves the event's user, telling them to log in when the
// chat user is not linked to an account.
func (h *Handler) authenticate(ctx context.Context, evt chat.Event) (identity.Person, bool) {
	p, err := h.dir.Authenticate(ctx, evt.UserID)
	if err != nil {
		h.fail(ctx, evt, err)
		return identity.Person{}, false
	}
	if p.ChatID == "" {
		p.ChatID = evt.ChatID
	}
	return p, true
}

func (h *Handler) require(ctx context.Context, evt chat.Event, p identity.Person, role identity.Role) bool {
	if identity.HasPermission(p.Role, role) {
		return true
	}
	h.reply(ctx, evt, fmt.Sprintf("Only %ss and above can do that.", strings.ToLower(role.Label())), nil)
	return false
}

// loadSession returns the user's session, nil when there is none. A corrupt
// session is dropped and the user told to start again.
func (h *Handler) loadSession(ctx context.Context, evt chat.Event) (*session.Session, bool) {
	sess, err := h.sessions.Get(ctx, evt.UserID)
	switch {
	case err == nil:
		return sess, true
	case errors.Is(err, session.ErrNotFound):
		return nil, true
	default:
		h.fail(ctx, evt, err)
		return nil, false
	}
}

func (h *Handler) startSession(ctx context.Context, evt chat.Event, st session.State, prompt string, buttons ...[]chat.Button) {
	if !h.saveSession(ctx, evt, st, "") {
		return
	}
	h.reply(ctx, evt, prompt, buttons)
}

func (h *Handler) saveSession(ctx context.Context, evt chat.Event, st session.State, code string) bool {
	err := h.sessions.Set(ctx, &session.Session{UserID: evt.UserID, ChatID: evt.ChatID, RequestCode: code, State: st})
	if err != nil {
		h.fail(ctx, evt, err)
		return false
	}
	return true
}

func (h *Handler) clearSession(ctx context.Context, userID string) {
	if err := h.sessions.Delete(ctx, userID); err != nil {
		h.log.Warn("delete session", zap.String("user_id", userID), zap.Error(err))
	}
}

func (h *Handler) reply(ctx context.Context, evt chat.Event, text string, buttons [][]chat.Button) {
	if _, err := h.notify.Send(ctx, chat.OutboundMessage{ChatID: evt.ChatID, Text: text, Buttons: buttons}); err != nil {
		loggerFrom(ctx, h.log).Warn("reply failed", zap.String("chat_id", evt.ChatID), zap.Error(err))
	}
}

// fail reports err to the user the way its kind calls for. Infrastructure
// errors are logged and answered with a generic message; a corrupt session is
// deleted.
func (h *Handler) fail(ctx context.Context, evt chat.Event, err error) {
	kind := workflow.Classify(err)
	log := loggerFrom(ctx, h.log)
	switch kind {
	case workflow.KindInfrastructure:
		log.Error("event failed", zap.Error(err))
	case workflow.KindFatal:
		log.Warn("dropping corrupt session", zap.Error(err))
		h.clearSession(ctx, evt.UserID)
	default:
		log.Debug("event rejected", zap.String("kind", kind.String()), zap.Error(err))
	}
	msg := workflow.Message(err)
	if evt.Kind == chat.EventCallback {
		if aerr := h.notify.Answer(ctx, evt.CallbackID, msg, true); aerr != nil {
			log.Warn("answer callback", zap.Error(aerr))
		}
		return
	}
	h.reply(ctx, evt, msg, nil)
}
