package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/events"
	"github.com/zulandar/motorpool/internal/identity"
	"github.com/zulandar/motorpool/internal/models"
	"github.com/zulandar/motorpool/internal/notify"
	"github.com/zulandar/motorpool/internal/registry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var terminalStatuses = []string{models.StatusFinalized, models.StatusDenied, models.StatusCancelled}

// IsTerminal reports whether status ends a request's lifecycle.
func IsTerminal(status string) bool {
	for _, s := range terminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// transition is one conditional status change.
type transition struct {
	op       string
	code     string
	from     string
	to       string
	set      map[string]interface{}
	conflict string
	// apply runs in the same transaction after the status update, with the
	// reloaded request. Returning an error rolls everything back.
	apply func(tx *gorm.DB, r *models.Request) error
}

// transition updates the request only while it is still in t.from. Zero rows
// affected means someone else moved it first.
func (e *Engine) transition(ctx context.Context, t transition) (models.Request, error) {
	set := make(map[string]interface{}, len(t.set)+1)
	for k, v := range t.set {
		set[k] = v
	}
	set["status"] = t.to

	var req models.Request
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Request{}).
			Where("code = ? AND status = ?", t.code, t.from).
			Updates(set)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&models.Request{}).Where("code = ?", t.code).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return reject(ErrNotFound, "Request %s not found.", t.code)
			}
			return &Rejection{Kind: ErrConflict, Msg: t.conflict}
		}
		if err := tx.Where("code = ?", t.code).First(&req).Error; err != nil {
			return err
		}
		if t.apply != nil {
			return t.apply(tx, &req)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			e.metrics.Conflicts.WithLabelValues(t.op).Inc()
		}
		if Classify(err) != KindInfrastructure {
			return models.Request{}, err
		}
		return models.Request{}, fmt.Errorf("workflow: %s %s: %w", t.op, t.code, err)
	}
	return req, nil
}

// committed records a durable transition in metrics and on the event bus.
func (e *Engine) committed(ctx context.Context, req models.Request, actor string) {
	e.metrics.Transitions.WithLabelValues(req.Status).Inc()
	ev := events.Event{Code: req.Code, Status: req.Status, Actor: actor, Vehicle: req.VehiclePrefix}
	if err := e.pub.Publish(ctx, ev); err != nil {
		e.log.Warn("lifecycle event not published", zap.String("code", req.Code), zap.Error(err))
	}
	e.log.Debug("transition", zap.String("code", req.Code), zap.String("status", req.Status), zap.String("actor", actor))
}

// remember stores req in the registry, appending deliveries, and returns a
// copy of the resulting entry.
func (e *Engine) remember(req models.Request, ds ...notify.Delivery) registry.Entry {
	e.reg.Update(req.Code, true, func(en *registry.Entry) {
		en.Request = req
		en.Deliveries = append(en.Deliveries, ds...)
	})
	e.metrics.TrackedRequests.Set(float64(e.reg.Len()))
	entry, _ := e.reg.Get(req.Code)
	return entry
}

func (e *Engine) forget(code string) {
	e.reg.Delete(code)
	e.metrics.TrackedRequests.Set(float64(e.reg.Len()))
}

// syncRequester renders the requester's tracked message for the current
// status, sending a fresh one when there is none to edit.
func (e *Engine) syncRequester(ctx context.Context, entry registry.Entry) {
	req := entry.Request
	text, buttons := RequesterView(req, e.loc)
	if dl, ok := notify.Find(notify.ForAudience(entry.Deliveries, AudienceRequester), req.RequesterID); ok {
		err := e.notify.Edit(ctx, dl.Ref, text, buttons)
		if err == nil {
			return
		}
		e.log.Warn("requester update failed, sending a new message", zap.String("code", req.Code), zap.Error(err))
	}
	if req.RequesterChat == "" {
		return
	}
	ref, err := e.notify.Send(ctx, chat.OutboundMessage{ChatID: req.RequesterChat, Text: text, Buttons: buttons})
	if err != nil {
		e.log.Warn("requester notification failed", zap.String("code", req.Code), zap.Error(err))
		return
	}
	e.reg.Update(req.Code, false, func(en *registry.Entry) {
		kept := en.Deliveries[:0]
		for _, d := range en.Deliveries {
			if d.Audience != AudienceRequester {
				kept = append(kept, d)
			}
		}
		en.Deliveries = append(kept, notify.Delivery{RecipientID: req.RequesterID, Audience: AudienceRequester, Ref: ref})
	})
}

// showActor puts text in front of the acting user: on the pressed message,
// else on their tracked message, else as a new message.
func (e *Engine) showActor(ctx context.Context, entry registry.Entry, a Action, audience, text string, buttons [][]chat.Button) {
	ref := a.Message
	if ref.IsZero() {
		for _, dl := range entry.Deliveries {
			if dl.RecipientID == a.Actor.UserID && dl.Audience != AudienceRequester {
				ref = dl.Ref
			}
		}
	}
	if !ref.IsZero() {
		if err := e.notify.Edit(ctx, ref, text, buttons); err == nil {
			return
		}
	}
	if a.Actor.ChatID == "" {
		return
	}
	newRef, err := e.notify.Send(ctx, chat.OutboundMessage{ChatID: a.Actor.ChatID, Text: text, Buttons: buttons})
	if err != nil {
		e.log.Warn("actor notification failed", zap.String("code", entry.Request.Code), zap.Error(err))
		return
	}
	e.remember(entry.Request, notify.Delivery{RecipientID: a.Actor.UserID, Audience: audience, Ref: newRef})
}

// editAudience sets the same text on every tracked message of an audience,
// plus the message the actor pressed when it is not among them.
func (e *Engine) editAudience(ctx context.Context, entry registry.Entry, a Action, audience, text string) {
	ds := notify.ForAudience(entry.Deliveries, audience)
	if !a.Message.IsZero() {
		seen := false
		for _, dl := range ds {
			if dl.Ref == a.Message {
				seen = true
				break
			}
		}
		if !seen {
			ds = append(ds, notify.Delivery{RecipientID: a.Actor.UserID, Ref: a.Message})
		}
	}
	if failed := e.notify.EditAll(ctx, ds, func(notify.Delivery) (string, [][]chat.Button, bool) {
		return text, nil, true
	}); failed > 0 {
		e.log.Warn("some messages were not updated", zap.String("code", entry.Request.Code), zap.String("audience", audience), zap.Int("failed", failed))
	}
}

// offer shows the handling inspector the vehicles currently available.
func (e *Engine) offer(ctx context.Context, req models.Request, a Action, note string) {
	available, err := e.vehicles.ListAvailable(ctx)
	if err != nil {
		e.log.Error("list available vehicles", zap.String("code", req.Code), zap.Error(err))
		return
	}
	text, buttons := VehicleChoice(req, available, note)
	entry, ok := e.reg.Get(req.Code)
	if !ok {
		entry = e.remember(req)
	}
	e.showActor(ctx, entry, a, AudienceHandler, text, buttons)
}

// fanout sends a message to every holder of role and returns the deliveries
// that succeeded.
func (e *Engine) fanout(ctx context.Context, code string, role identity.Role, build func(notify.Recipient) chat.OutboundMessage) []notify.Delivery {
	people, err := e.dir.UsersWithRole(ctx, role)
	if err != nil {
		e.log.Error("look up role holders", zap.String("code", code), zap.String("role", string(role)), zap.Error(err))
		return nil
	}
	if len(people) == 0 {
		e.log.Warn("nobody to notify", zap.String("code", code), zap.String("role", string(role)))
		return nil
	}
	recipients := make([]notify.Recipient, 0, len(people))
	for _, p := range people {
		recipients = append(recipients, notify.Recipient{UserID: p.UserID, ChatID: p.ChatID, Name: p.Name})
	}
	ds, err := e.notify.Fanout(ctx, recipients, build)
	if err != nil {
		e.log.Warn("fan-out failed", zap.String("code", code), zap.String("role", string(role)), zap.Error(err))
	}
	return ds
}

// chatOf finds a chat for userID from tracked messages, falling back to the
// directory.
func (e *Engine) chatOf(ctx context.Context, entry registry.Entry, userID string) string {
	if userID == "" {
		return ""
	}
	for _, dl := range entry.Deliveries {
		if dl.RecipientID == userID && dl.Audience != AudienceRequester {
			return dl.Ref.ChatID
		}
	}
	p, err := e.dir.Authenticate(ctx, userID)
	if err != nil {
		return ""
	}
	return p.ChatID
}
