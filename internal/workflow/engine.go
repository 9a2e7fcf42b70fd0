// Package workflow drives vehicle requests through inspection, allocation,
// authorization, key delivery and odometer recording. Every status change is
// a conditional update committed before anyone is notified.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/db"
	"github.com/zulandar/motorpool/internal/events"
	"github.com/zulandar/motorpool/internal/fleet"
	"github.com/zulandar/motorpool/internal/identity"
	"github.com/zulandar/motorpool/internal/logging"
	"github.com/zulandar/motorpool/internal/metrics"
	"github.com/zulandar/motorpool/internal/models"
	"github.com/zulandar/motorpool/internal/notify"
	"github.com/zulandar/motorpool/internal/registry"
	"github.com/zulandar/motorpool/internal/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Audiences of tracked messages.
const (
	AudienceRequester  = "requester"
	AudienceInspectors = "inspector"
	AudienceHandler    = "handler"
	AudienceAuthorizer = "authorizer"
	AudienceOperators  = "radio_operator"
)

const (
	defaultMinLead       = 30 * time.Minute
	defaultClaimReminder = 3 * time.Minute
	codeAttempts         = 5
)

// Directory resolves chat users and role holders.
type Directory interface {
	Authenticate(ctx context.Context, userID string) (identity.Person, error)
	UsersWithRole(ctx context.Context, role identity.Role) ([]identity.Person, error)
}

// VehicleLister lists vehicles an inspector can choose from.
type VehicleLister interface {
	ListAvailable(ctx context.Context) ([]models.Vehicle, error)
}

// EngineOpts configures an Engine.
type EngineOpts struct {
	DB            *gorm.DB
	Registry      *registry.Registry
	Dispatcher    *notify.Dispatcher
	Directory     Directory
	Scheduler     *scheduler.Scheduler
	Allocator     *fleet.Allocator
	Vehicles      VehicleLister
	Codes         *CodeSequence // loaded from DB when nil
	Publisher     events.Publisher
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	Clock         func() time.Time
	Location      *time.Location
	CodePrefix    string
	MinLead       time.Duration
	ClaimReminder time.Duration
}

// Engine is the request state machine.
type Engine struct {
	db       *gorm.DB
	reg      *registry.Registry
	notify   *notify.Dispatcher
	dir      Directory
	sched    *scheduler.Scheduler
	alloc    *fleet.Allocator
	vehicles VehicleLister
	codes    *CodeSequence
	pub      events.Publisher
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
	loc      *time.Location
	minLead  time.Duration
	reminder time.Duration
}

// Action is a request operation performed by an authenticated person.
type Action struct {
	Actor identity.Person
	Code  string
	// Message is the chat message whose button triggered the action, if any.
	Message chat.MessageRef
}

// NewEngine validates opts and loads the request code high-water mark.
func NewEngine(ctx context.Context, opts EngineOpts) (*Engine, error) {
	switch {
	case opts.DB == nil:
		return nil, fmt.Errorf("workflow: db is required")
	case opts.Registry == nil:
		return nil, fmt.Errorf("workflow: registry is required")
	case opts.Dispatcher == nil:
		return nil, fmt.Errorf("workflow: dispatcher is required")
	case opts.Directory == nil:
		return nil, fmt.Errorf("workflow: directory is required")
	case opts.Scheduler == nil:
		return nil, fmt.Errorf("workflow: scheduler is required")
	case opts.Allocator == nil:
		return nil, fmt.Errorf("workflow: allocator is required")
	case opts.Vehicles == nil:
		return nil, fmt.Errorf("workflow: vehicle lister is required")
	}

	prefix := opts.CodePrefix
	if prefix == "" {
		prefix = "SOL"
	}
	codes := opts.Codes
	if codes == nil {
		var err error
		if codes, err = LoadCodeSequence(ctx, opts.DB, prefix); err != nil {
			return nil, err
		}
	}
	e := &Engine{
		db:       opts.DB,
		reg:      opts.Registry,
		notify:   opts.Dispatcher,
		dir:      opts.Directory,
		sched:    opts.Scheduler,
		alloc:    opts.Allocator,
		vehicles: opts.Vehicles,
		codes:    codes,
		pub:      opts.Publisher,
		metrics:  metrics.OrNew(opts.Metrics),
		log:      logging.OrNop(opts.Logger),
		now:      opts.Clock,
		loc:      opts.Location,
		minLead:  opts.MinLead,
		reminder: opts.ClaimReminder,
	}
	if e.pub == nil {
		e.pub = events.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.minLead <= 0 {
		e.minLead = defaultMinLead
	}
	if e.reminder <= 0 {
		e.reminder = defaultClaimReminder
	}
	return e, nil
}

// Location returns the zone dates are entered and displayed in.
func (e *Engine) Location() *time.Location { return e.loc }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.now() }

// MinLead returns the minimum notice for a request.
func (e *Engine) MinLead() time.Duration { return e.minLead }

// SubmitOpts is the data a requester entered.
type SubmitOpts struct {
	Requester identity.Person
	ChatID    string // chat the requester used; their tracked message goes here
	Date      string // DateLayout
	Time      string // HH:MM
	Reason    string
}

// Submit validates and records a new request, tells the requester, offers it
// to every inspector and arms the claim reminder.
func (e *Engine) Submit(ctx context.Context, opts SubmitOpts) (models.Request, error) {
	p := opts.Requester
	if !identity.HasPermission(p.Role, identity.RoleRequester) {
		return models.Request{}, reject(ErrForbidden, "You are not allowed to request vehicles.")
	}
	needAt, err := NeedAt(opts.Date, opts.Time, e.loc)
	if err != nil {
		return models.Request{}, err
	}
	now := e.now()
	if needAt.Before(startOfDay(now, e.loc)) {
		return models.Request{}, reject(ErrInvalid, "The date must be today or later.")
	}
	if err := CheckLeadTime(needAt, now, e.minLead); err != nil {
		return models.Request{}, err
	}
	reason, err := ValidateReason(opts.Reason)
	if err != nil {
		return models.Request{}, err
	}
	chatID := opts.ChatID
	if chatID == "" {
		chatID = p.ChatID
	}

	var req models.Request
	for attempt := 0; ; attempt++ {
		code, seq := e.codes.Next()
		req = models.Request{
			Code:          code,
			Seq:           seq,
			RequesterID:   p.UserID,
			RequesterName: p.Name,
			RequesterChat: chatID,
			NeedAt:        needAt,
			Reason:        reason,
			Status:        models.StatusAwaitingInspection,
		}
		err = e.db.WithContext(ctx).Create(&req).Error
		if err == nil {
			break
		}
		if !db.IsDuplicateKey(err) || attempt+1 >= codeAttempts {
			return models.Request{}, fmt.Errorf("workflow: submit: %w", err)
		}
		e.log.Warn("request code taken, retrying", zap.String("code", code))
	}
	e.committed(ctx, req, p.Name)
	e.log.Info("request submitted", zap.String("code", req.Code), zap.String("requester", p.UserID))

	entry := e.remember(req)
	e.syncRequester(ctx, entry)

	text, buttons := claimPrompt(req, e.loc)
	ds := e.fanout(ctx, req.Code, identity.RoleInspector, func(notify.Recipient) chat.OutboundMessage {
		return chat.OutboundMessage{Text: text, Buttons: buttons}
	})
	e.remember(req, notify.Tag(ds, AudienceInspectors)...)

	e.armReminder(req.Code, e.reminder)
	return req, nil
}

// Claim moves a request from awaiting_inspection to in_inspection for the
// acting inspector. Exactly one concurrent claimer wins.
func (e *Engine) Claim(ctx context.Context, a Action) (models.Request, error) {
	if !identity.HasPermission(a.Actor.Role, identity.RoleInspector) {
		return models.Request{}, reject(ErrForbidden, "Only inspectors can claim requests.")
	}
	req, err := e.transition(ctx, transition{
		op:   "claim",
		code: a.Code,
		from: models.StatusAwaitingInspection,
		to:   models.StatusInInspection,
		set: map[string]interface{}{
			"inspector_id":   a.Actor.UserID,
			"inspector_name": a.Actor.Name,
		},
		conflict: "Request " + a.Code + " is already being handled by another inspector.",
	})
	if err != nil {
		return models.Request{}, err
	}
	e.sched.Disarm(req.Code)
	e.committed(ctx, req, a.Actor.Name)

	entry := e.remember(req)
	others := notify.Except(notify.ForAudience(entry.Deliveries, AudienceInspectors), a.Actor.UserID)
	handled := handledText(req, e.loc)
	e.notify.EditAll(ctx, others, func(notify.Delivery) (string, [][]chat.Button, bool) {
		return handled, nil, true
	})
	e.syncRequester(ctx, entry)
	e.offer(ctx, req, a, "")
	return req, nil
}

// OfferVehicles re-sends the vehicle choice to the handling inspector.
func (e *Engine) OfferVehicles(ctx context.Context, a Action) (models.Request, error) {
	req, err := e.Get(ctx, a.Code)
	if err != nil {
		return models.Request{}, err
	}
	if req.Status != models.StatusInInspection || req.InspectorID != a.Actor.UserID {
		return models.Request{}, reject(ErrConflict, "Request %s is not awaiting a vehicle from you.", a.Code)
	}
	e.offer(ctx, req, a, "")
	return req, nil
}

// SelectVehicle reserves a vehicle for a claimed request and hands it to the
// authorizers. If the vehicle was taken meanwhile, the inspector is offered
// the refreshed list and the request stays in_inspection.
func (e *Engine) SelectVehicle(ctx context.Context, a Action, vehicleID uint) (models.Request, error) {
	if !identity.HasPermission(a.Actor.Role, identity.RoleInspector) {
		return models.Request{}, reject(ErrForbidden, "Only inspectors can select vehicles.")
	}
	res, err := e.alloc.Reserve(ctx, fleet.ReserveOpts{Code: a.Code, VehicleID: vehicleID, InspectorID: a.Actor.UserID})
	switch {
	case errors.Is(err, fleet.ErrUnavailable):
		e.metrics.Reservations.WithLabelValues("unavailable").Inc()
		e.metrics.Conflicts.WithLabelValues("select_vehicle").Inc()
		if req, gerr := e.Get(ctx, a.Code); gerr == nil {
			e.offer(ctx, req, a, "The selected vehicle is no longer available. Please choose another.")
		}
		return models.Request{}, &Rejection{Kind: ErrConflict, Msg: "That vehicle is no longer available."}
	case errors.Is(err, fleet.ErrConflict):
		e.metrics.Conflicts.WithLabelValues("select_vehicle").Inc()
		return models.Request{}, reject(ErrConflict, "Request %s is not awaiting a vehicle from you.", a.Code)
	case errors.Is(err, fleet.ErrNotFound):
		return models.Request{}, reject(ErrNotFound, "Vehicle not found.")
	case err != nil:
		return models.Request{}, fmt.Errorf("workflow: select vehicle for %s: %w", a.Code, err)
	}
	e.metrics.Reservations.WithLabelValues("reserved").Inc()
	req := res.Request
	e.committed(ctx, req, a.Actor.Name)

	entry := e.remember(req)
	e.showActor(ctx, entry, a, AudienceHandler, vehicleSelectedText(req), nil)
	e.syncRequester(ctx, entry)

	text, buttons := authorizationPrompt(req, e.loc)
	ds := e.fanout(ctx, req.Code, identity.RoleAuthorizer, func(notify.Recipient) chat.OutboundMessage {
		return chat.OutboundMessage{Text: text, Buttons: buttons}
	})
	e.remember(req, notify.Tag(ds, AudienceAuthorizer)...)
	return req, nil
}

// Decide authorizes or denies a request awaiting authorization. Denial
// releases the reserved vehicle in the same transaction.
func (e *Engine) Decide(ctx context.Context, a Action, approve bool) (models.Request, error) {
	if !identity.HasPermission(a.Actor.Role, identity.RoleAuthorizer) {
		return models.Request{}, reject(ErrForbidden, "Only authorizers can decide requests.")
	}
	to := models.StatusAuthorized
	if !approve {
		to = models.StatusDenied
	}
	req, err := e.transition(ctx, transition{
		op:   "decide",
		code: a.Code,
		from: models.StatusAwaitingAuthorization,
		to:   to,
		set: map[string]interface{}{
			"authorizer_id":   a.Actor.UserID,
			"authorizer_name": a.Actor.Name,
			"decided_at":      e.now(),
		},
		conflict: "Request " + a.Code + " has already been decided.",
		apply: func(tx *gorm.DB, r *models.Request) error {
			if approve || r.VehicleID == nil {
				return nil
			}
			_, err := fleet.Release(tx, *r.VehicleID, models.VehicleReserved)
			return err
		},
	})
	if err != nil {
		return models.Request{}, err
	}
	e.committed(ctx, req, a.Actor.Name)

	entry := e.remember(req)
	text := decisionText(req, e.loc)
	e.editAudience(ctx, entry, a, AudienceAuthorizer, text)
	e.syncRequester(ctx, entry)

	if approve {
		kt, kb := keysPrompt(req)
		ds := e.fanout(ctx, req.Code, identity.RoleRadioOperator, func(notify.Recipient) chat.OutboundMessage {
			return chat.OutboundMessage{Text: kt, Buttons: kb}
		})
		e.remember(req, notify.Tag(ds, AudienceOperators)...)
	} else {
		e.forget(req.Code)
	}
	return req, nil
}

// DeliverKeys records the radio operator who handed over the keys and asks
// the requester for the start odometer.
func (e *Engine) DeliverKeys(ctx context.Context, a Action) (models.Request, error) {
	if !identity.HasPermission(a.Actor.Role, identity.RoleRadioOperator) {
		return models.Request{}, reject(ErrForbidden, "Only radio operators can deliver keys.")
	}
	req, err := e.transition(ctx, transition{
		op:   "deliver",
		code: a.Code,
		from: models.StatusAuthorized,
		to:   models.StatusDelivered,
		set: map[string]interface{}{
			"operator_id":   a.Actor.UserID,
			"operator_name": a.Actor.Name,
			"delivered_at":  e.now(),
		},
		conflict: "The keys for " + a.Code + " have already been delivered.",
	})
	if err != nil {
		return models.Request{}, err
	}
	e.committed(ctx, req, a.Actor.Name)

	entry := e.remember(req)
	e.editAudience(ctx, entry, a, AudienceOperators, keysDeliveredText(req))
	e.syncRequester(ctx, entry)
	return req, nil
}

// BeginOdometer checks that the actor may enter the start (end=false) or
// final odometer for the request right now.
func (e *Engine) BeginOdometer(ctx context.Context, a Action, end bool) (models.Request, error) {
	req, err := e.owned(ctx, a)
	if err != nil {
		return models.Request{}, err
	}
	want := models.StatusDelivered
	if end {
		want = models.StatusInUse
	}
	if req.Status != want {
		return models.Request{}, reject(ErrConflict, "Request %s is not waiting for that odometer reading.", a.Code)
	}
	return req, nil
}

// RecordStartOdometer puts the vehicle in use. The reading may not be lower
// than the vehicle's recorded odometer.
func (e *Engine) RecordStartOdometer(ctx context.Context, a Action, km int64) (models.Request, error) {
	if _, err := e.owned(ctx, a); err != nil {
		return models.Request{}, err
	}
	if km < 0 {
		return models.Request{}, reject(ErrInvalid, "The odometer cannot be negative.")
	}
	req, err := e.transition(ctx, transition{
		op:   "start_odometer",
		code: a.Code,
		from: models.StatusDelivered,
		to:   models.StatusInUse,
		set: map[string]interface{}{
			"start_odometer": km,
			"started_at":     e.now(),
		},
		conflict: "Request " + a.Code + " is not waiting for a start odometer.",
		apply: func(tx *gorm.DB, r *models.Request) error {
			if r.VehicleID == nil {
				return reject(ErrConflict, "Request %s has no vehicle.", r.Code)
			}
			v, err := fleet.Lock(tx, *r.VehicleID)
			if err != nil {
				return err
			}
			if km < v.Odometer {
				return reject(ErrInvalid, "The start odometer (%d km) cannot be lower than the vehicle's current odometer (%d km).", km, v.Odometer)
			}
			return fleet.Occupy(tx, v.ID, km)
		},
	})
	if err != nil {
		return models.Request{}, err
	}
	e.committed(ctx, req, a.Actor.Name)
	e.syncRequester(ctx, e.remember(req))
	return req, nil
}

// RecordEndOdometer finalizes the request and returns the vehicle. The
// reading may not be lower than the start odometer.
func (e *Engine) RecordEndOdometer(ctx context.Context, a Action, km int64) (models.Request, error) {
	if _, err := e.owned(ctx, a); err != nil {
		return models.Request{}, err
	}
	req, err := e.transition(ctx, transition{
		op:   "end_odometer",
		code: a.Code,
		from: models.StatusInUse,
		to:   models.StatusFinalized,
		set: map[string]interface{}{
			"end_odometer": km,
			"finished_at":  e.now(),
		},
		conflict: "Request " + a.Code + " is not waiting for a final odometer.",
		apply: func(tx *gorm.DB, r *models.Request) error {
			if km < r.StartOdometer.Int64 {
				return reject(ErrInvalid, "The final odometer (%d km) cannot be lower than the start odometer (%d km).", km, r.StartOdometer.Int64)
			}
			if r.VehicleID == nil {
				return reject(ErrConflict, "Request %s has no vehicle.", r.Code)
			}
			return fleet.Return(tx, *r.VehicleID, km)
		},
	})
	if err != nil {
		return models.Request{}, err
	}
	e.committed(ctx, req, a.Actor.Name)

	entry := e.remember(req)
	e.syncRequester(ctx, entry)
	if chatID := e.chatOf(ctx, entry, req.InspectorID); chatID != "" {
		if _, err := e.notify.Send(ctx, chat.OutboundMessage{ChatID: chatID, Text: Summary(req, e.loc)}); err != nil {
			e.log.Warn("summary to inspector failed", zap.String("code", req.Code), zap.Error(err))
		}
	}
	e.forget(req.Code)
	return req, nil
}

// Cancel withdraws a request nobody has claimed yet.
func (e *Engine) Cancel(ctx context.Context, a Action) (models.Request, error) {
	if _, err := e.owned(ctx, a); err != nil {
		return models.Request{}, err
	}
	req, err := e.transition(ctx, transition{
		op:       "cancel",
		code:     a.Code,
		from:     models.StatusAwaitingInspection,
		to:       models.StatusCancelled,
		set:      map[string]interface{}{"cancelled_at": e.now()},
		conflict: "Request " + a.Code + " has already been picked up and can no longer be cancelled.",
	})
	if err != nil {
		return models.Request{}, err
	}
	e.sched.Disarm(req.Code)
	e.committed(ctx, req, a.Actor.Name)

	entry := e.remember(req)
	text := cancelledText(req)
	e.notify.EditAll(ctx, notify.ForAudience(entry.Deliveries, AudienceInspectors), func(notify.Delivery) (string, [][]chat.Button, bool) {
		return text, nil, true
	})
	e.syncRequester(ctx, entry)
	e.forget(req.Code)
	return req, nil
}

// Recover reloads requests still in flight into the registry and re-arms
// claim reminders for those nobody has claimed, using their remaining time.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	var active []models.Request
	err := e.db.WithContext(ctx).
		Where("status NOT IN ?", terminalStatuses).
		Order("seq").
		Find(&active).Error
	if err != nil {
		return 0, fmt.Errorf("workflow: recover: %w", err)
	}
	now := e.now()
	armed := 0
	for _, req := range active {
		e.remember(req)
		if req.Status != models.StatusAwaitingInspection {
			continue
		}
		e.armReminder(req.Code, req.CreatedAt.Add(e.reminder).Sub(now))
		armed++
	}
	e.log.Info("recovered requests", zap.Int("active", len(active)), zap.Int("reminders", armed))
	return armed, nil
}

// remind re-sends an unclaimed request to the inspectors once.
func (e *Engine) remind(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	req, err := e.Get(ctx, code)
	if err != nil {
		e.log.Warn("reminder lookup failed", zap.String("code", code), zap.Error(err))
		return
	}
	if req.Status != models.StatusAwaitingInspection {
		return
	}
	e.metrics.Reminders.Inc()
	e.log.Info("claim reminder", zap.String("code", code))
	text := reminderText(req, e.reminder, e.loc)
	e.fanout(ctx, code, identity.RoleInspector, func(notify.Recipient) chat.OutboundMessage {
		return chat.OutboundMessage{Text: text}
	})
}

func (e *Engine) armReminder(code string, delay time.Duration) {
	e.sched.Arm(code, delay, func() { e.remind(code) })
}

// owned loads the request and requires the actor to be its requester.
func (e *Engine) owned(ctx context.Context, a Action) (models.Request, error) {
	req, err := e.Get(ctx, a.Code)
	if err != nil {
		return models.Request{}, err
	}
	if req.RequesterID != a.Actor.UserID {
		return models.Request{}, reject(ErrForbidden, "Only the requester of %s can do that.", a.Code)
	}
	return req, nil
}
