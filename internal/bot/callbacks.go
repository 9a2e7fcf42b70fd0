package bot

import (
	"context"
	"fmt"

	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/fleet"
	"github.com/zulandar/motorpool/internal/identity"
	"github.com/zulandar/motorpool/internal/session"
	"github.com/zulandar/motorpool/internal/workflow"
	"go.uber.org/zap"
)

// handleCallback dispatches a button press. Every press is answered, with an
// alert when it was rejected.
func (h *Handler) handleCallback(ctx context.Context, evt chat.Event) {
	action, args := workflow.ParseCallback(evt.Data)
	loggerFrom(ctx, h.log).Info("callback", zap.String("action", action), zap.Strings("args", args))

	p, ok := h.authenticate(ctx, evt)
	if !ok {
		return
	}
	a := workflow.Action{Actor: p, Message: evt.Message}
	if len(args) > 0 {
		a.Code = args[0]
	}

	var err error
	switch action {
	case workflow.ActionClaim:
		_, err = h.engine.Claim(ctx, a)
	case workflow.ActionVehicles:
		_, err = h.engine.OfferVehicles(ctx, a)
	case workflow.ActionVehicle:
		id, ok := argID(args, 1)
		if !ok {
			h.answer(ctx, evt, "Invalid vehicle.", true)
			return
		}
		_, err = h.engine.SelectVehicle(ctx, a, id)
	case workflow.ActionAuthorize:
		_, err = h.engine.Decide(ctx, a, true)
	case workflow.ActionDeny:
		_, err = h.engine.Decide(ctx, a, false)
	case workflow.ActionKeys:
		_, err = h.engine.DeliverKeys(ctx, a)
	case workflow.ActionStartKM:
		err = h.beginOdometer(ctx, evt, a, false)
	case workflow.ActionEndKM:
		err = h.beginOdometer(ctx, evt, a, true)
	case workflow.ActionCancel:
		_, err = h.engine.Cancel(ctx, a)
	case workflow.ActionPickStatus:
		err = h.pickVehicle(ctx, evt, p, args)
	case workflow.ActionSetStatus:
		err = h.setVehicleStatus(ctx, evt, p, args)
	case workflow.ActionTerms, workflow.ActionToday, workflow.ActionRole, workflow.ActionNewStatus:
		h.sessionCallback(ctx, evt, p, action, args)
		return
	default:
		h.answer(ctx, evt, "This button is no longer valid.", true)
		return
	}
	if err != nil {
		h.fail(ctx, evt, err)
		return
	}
	h.answer(ctx, evt, "", false)
}

func argID(args []string, i int) (uint, bool) {
	if len(args) <= i {
		return 0, false
	}
	return workflow.ParseID(args[i])
}

// beginOdometer opens the odometer step for the request's requester.
func (h *Handler) beginOdometer(ctx context.Context, evt chat.Event, a workflow.Action, end bool) error {
	req, err := h.engine.BeginOdometer(ctx, a, end)
	if err != nil {
		return err
	}
	if end {
		h.startSessionFor(ctx, evt, session.EndOdometer{Code: req.Code, Start: req.StartOdometer.Int64}, req.Code,
			fmt.Sprintf("Enter the final odometer of %s in km (start was %d km):", req.VehiclePrefix, req.StartOdometer.Int64))
		return nil
	}
	prompt := fmt.Sprintf("Enter the start odometer of %s in km:", req.VehiclePrefix)
	if req.VehicleID != nil {
		if v, err := h.fleet.Get(ctx, *req.VehicleID); err == nil {
			prompt = fmt.Sprintf("Enter the start odometer of %s in km (last recorded %d km):", v.Prefix, v.Odometer)
		}
	}
	h.startSessionFor(ctx, evt, session.StartOdometer{Code: req.Code}, req.Code, prompt)
	return nil
}

func (h *Handler) startSessionFor(ctx context.Context, evt chat.Event, st session.State, code, prompt string) {
	if !h.saveSession(ctx, evt, st, code) {
		return
	}
	h.reply(ctx, evt, prompt, nil)
}

// pickVehicle shows the status choices for one vehicle.
func (h *Handler) pickVehicle(ctx context.Context, evt chat.Event, p identity.Person, args []string) error {
	if !identity.HasPermission(p.Role, identity.RoleInspector) {
		return workflow.ErrForbidden
	}
	id, ok := argID(args, 0)
	if !ok {
		return fmt.Errorf("%w: vehicle id", fleet.ErrInvalid)
	}
	v, err := h.fleet.Get(ctx, id)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("%s - %s\nCurrent status: %s\n\nChoose the new status:", v.Prefix, v.Name, fleet.StatusLabel(v.Status))
	h.edit(ctx, evt, text, statusButtons(workflow.ActionSetStatus, v.Status, fmt.Sprint(v.ID))...)
	return nil
}

func (h *Handler) setVehicleStatus(ctx context.Context, evt chat.Event, p identity.Person, args []string) error {
	if !identity.HasPermission(p.Role, identity.RoleInspector) {
		return workflow.ErrForbidden
	}
	id, ok := argID(args, 0)
	if !ok || len(args) < 2 {
		return fmt.Errorf("%w: vehicle status", fleet.ErrInvalid)
	}
	before, err := h.fleet.SetStatus(ctx, id, args[1])
	if err != nil {
		return err
	}
	loggerFrom(ctx, h.log).Info("vehicle status changed",
		zap.String("prefix", before.Prefix), zap.String("from", before.Status), zap.String("to", args[1]), zap.String("by", p.UserID))
	h.edit(ctx, evt, fmt.Sprintf("%s - %s\nStatus changed: %s -> %s", before.Prefix, before.Name, fleet.StatusLabel(before.Status), fleet.StatusLabel(args[1])))
	return nil
}

// sessionCallback handles buttons that answer the step of a conversation.
func (h *Handler) sessionCallback(ctx context.Context, evt chat.Event, p identity.Person, action string, args []string) {
	sess, ok := h.loadSession(ctx, evt)
	if !ok {
		return
	}
	var st session.State
	if sess != nil {
		st = sess.State
	}
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}

	switch action {
	case workflow.ActionTerms:
		if _, ok := st.(session.RequestTerms); !ok {
			break
		}
		h.answer(ctx, evt, "", false)
		if arg != "accept" {
			h.clearSession(ctx, evt.UserID)
			h.edit(ctx, evt, "Request cancelled.")
			return
		}
		h.edit(ctx, evt, "Terms accepted.")
		h.askDate(ctx, evt)
		return

	case workflow.ActionToday:
		if _, ok := st.(session.RequestDate); !ok {
			break
		}
		h.answer(ctx, evt, "", false)
		h.askTime(ctx, evt, workflow.Today(h.engine.Now(), h.engine.Location()))
		return

	case workflow.ActionRole:
		en, ok := st.(session.EnrollRole)
		if !ok {
			break
		}
		if !identity.HasPermission(p.Role, identity.RoleInspector) {
			h.clearSession(ctx, evt.UserID)
			h.fail(ctx, evt, workflow.ErrForbidden)
			return
		}
		h.enroll(ctx, evt, p, en, arg)
		return

	case workflow.ActionNewStatus:
		vs, ok := st.(session.VehicleStatus)
		if !ok {
			break
		}
		if !identity.HasPermission(p.Role, identity.RoleInspector) {
			h.clearSession(ctx, evt.UserID)
			h.fail(ctx, evt, workflow.ErrForbidden)
			return
		}
		h.registerVehicle(ctx, evt, vs, arg)
		return
	}
	h.answer(ctx, evt, "This button belongs to a finished conversation.", true)
}

func (h *Handler) answer(ctx context.Context, evt chat.Event, text string, alert bool) {
	if err := h.notify.Answer(ctx, evt.CallbackID, text, alert); err != nil {
		loggerFrom(ctx, h.log).Warn("answer callback", zap.Error(err))
	}
}

// edit replaces the pressed message, falling back to a new reply.
func (h *Handler) edit(ctx context.Context, evt chat.Event, text string, buttons ...[]chat.Button) {
	if !evt.Message.IsZero() {
		if err := h.notify.Edit(ctx, evt.Message, text, buttons); err == nil {
			return
		}
	}
	h.reply(ctx, evt, text, buttons)
}
