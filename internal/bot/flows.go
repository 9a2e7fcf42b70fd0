package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/fleet"
	"github.com/zulandar/motorpool/internal/identity"
	"github.com/zulandar/motorpool/internal/models"
	"github.com/zulandar/motorpool/internal/session"
	"github.com/zulandar/motorpool/internal/workflow"
	"go.uber.org/zap"
)

const useButtons = "Please choose one of the buttons above, or send /cancel."

// retry re-prompts the current step with the validation message.
func (h *Handler) retry(ctx context.Context, evt chat.Event, err error) {
	if workflow.Classify(err) != workflow.KindInvalid {
		h.fail(ctx, evt, err)
		return
	}
	h.reply(ctx, evt, workflow.Message(err)+" Please try again.", nil)
}

func (h *Handler) loginInput(ctx context.Context, evt chat.Event, st session.State, text string) {
	switch st := st.(type) {
	case session.LoginCPF:
		cpf, err := identity.NormalizeCPF(text)
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		h.startSession(ctx, evt, session.LoginRegistration{CPF: cpf}, "Now enter your registration number:")

	case session.LoginRegistration:
		reg, err := identity.NormalizeRegistration(text)
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		user, err := h.dir.Verify(ctx, st.CPF, reg, evt.UserID)
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			h.startSession(ctx, evt, session.LoginCPF{}, workflow.Message(err)+" Enter your CPF again:")
			return
		case err != nil:
			h.clearSession(ctx, evt.UserID)
			h.fail(ctx, evt, err)
			return
		}
		if user.Name == "" {
			h.startSession(ctx, evt, session.LoginName{UserID: user.ID}, "Almost done. How should we call you? Enter your name:")
			return
		}
		h.link(ctx, evt, user.ID, "")

	case session.LoginName:
		name, err := identity.NormalizeName(text)
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		h.link(ctx, evt, st.UserID, name)
	}
}

func (h *Handler) link(ctx context.Context, evt chat.Event, accountID uint, name string) {
	p, err := h.dir.Link(ctx, accountID, evt.UserID, evt.ChatID, name)
	h.clearSession(ctx, evt.UserID)
	if err != nil {
		h.fail(ctx, evt, err)
		return
	}
	loggerFrom(ctx, h.log).Info("chat user linked", zap.Uint("account_id", accountID), zap.String("role", string(p.Role)))
	h.reply(ctx, evt, fmt.Sprintf("Logged in as %s (%s).\n\n%s", p.Name, p.Role.Label(), helpText(p.Role)), nil)
}

func (h *Handler) enrollInput(ctx context.Context, evt chat.Event, p identity.Person, st session.State, text string) {
	if !h.require(ctx, evt, p, identity.RoleInspector) {
		h.clearSession(ctx, evt.UserID)
		return
	}
	switch st := st.(type) {
	case session.EnrollCPF:
		cpf, err := identity.NormalizeCPF(text)
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		taken, _, err := h.dir.Taken(ctx, cpf, "")
		if err != nil {
			h.fail(ctx, evt, err)
			return
		}
		if taken {
			h.reply(ctx, evt, "That CPF is already enrolled. Enter another CPF or send /cancel.", nil)
			return
		}
		h.startSession(ctx, evt, session.EnrollRegistration{CPF: cpf}, "Enter their registration number:")

	case session.EnrollRegistration:
		reg, err := identity.NormalizeRegistration(text)
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		_, taken, err := h.dir.Taken(ctx, "", reg)
		if err != nil {
			h.fail(ctx, evt, err)
			return
		}
		if taken {
			h.reply(ctx, evt, "That registration is already enrolled. Enter another one or send /cancel.", nil)
			return
		}
		h.startSession(ctx, evt, session.EnrollRole{CPF: st.CPF, Registration: reg}, "Choose their role:", roleButtons()...)

	case session.EnrollRole:
		h.reply(ctx, evt, useButtons, nil)
	}
}

// enroll finishes /adduser once a role button is pressed.
func (h *Handler) enroll(ctx context.Context, evt chat.Event, p identity.Person, st session.EnrollRole, roleName string) {
	role, err := identity.ParseRole(roleName)
	if err != nil {
		h.answer(ctx, evt, "Unknown role.", true)
		return
	}
	u, err := h.dir.Enroll(ctx, st.CPF, st.Registration, role)
	h.clearSession(ctx, evt.UserID)
	if err != nil {
		h.fail(ctx, evt, err)
		return
	}
	loggerFrom(ctx, h.log).Info("user enrolled", zap.String("registration", u.Registration), zap.String("role", u.Role), zap.String("by", p.UserID))
	h.answer(ctx, evt, "", false)
	h.edit(ctx, evt, fmt.Sprintf("User %s enrolled as %s. They can log in with /start.", u.Registration, role.Label()))
}

func (h *Handler) requestInput(ctx context.Context, evt chat.Event, p identity.Person, st session.State, text string) {
	switch st := st.(type) {
	case session.RequestTerms:
		h.reply(ctx, evt, useButtons, nil)

	case session.RequestDate:
		d, err := workflow.ParseDate(text, h.engine.Now(), h.engine.Location())
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		h.askTime(ctx, evt, d.Format(workflow.DateLayout))

	case session.RequestTime:
		hhmm, err := workflow.ParseTime(text)
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		needAt, err := workflow.NeedAt(st.Date, hhmm, h.engine.Location())
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		if err := workflow.CheckLeadTime(needAt, h.engine.Now(), h.engine.MinLead()); err != nil {
			h.reply(ctx, evt, workflow.Message(err), nil)
			return
		}
		h.startSession(ctx, evt, session.RequestReason{Date: st.Date, Time: hhmm}, "What is the vehicle needed for? Describe the reason:")

	case session.RequestReason:
		if _, err := workflow.ValidateReason(text); err != nil {
			h.retry(ctx, evt, err)
			return
		}
		_, err := h.engine.Submit(ctx, workflow.SubmitOpts{
			Requester: p,
			ChatID:    evt.ChatID,
			Date:      st.Date,
			Time:      st.Time,
			Reason:    text,
		})
		var lt *workflow.LeadTimeError
		switch {
		case errors.As(err, &lt):
			h.startSession(ctx, evt, session.RequestTime{Date: st.Date}, workflow.Message(err))
		case workflow.Classify(err) == workflow.KindInvalid:
			h.startSession(ctx, evt, session.RequestDate{}, workflow.Message(err)+" Enter the date again (DD/MM/YYYY):", todayButton()...)
		case err != nil:
			h.fail(ctx, evt, err)
		default:
			// The engine already sent the requester their tracked confirmation.
			h.clearSession(ctx, evt.UserID)
		}
	}
}

func (h *Handler) askDate(ctx context.Context, evt chat.Event) {
	h.startSession(ctx, evt, session.RequestDate{}, "When do you need the vehicle? Enter the date (DD/MM/YYYY) or press Today:", todayButton()...)
}

func (h *Handler) askTime(ctx context.Context, evt chat.Event, date string) {
	h.startSession(ctx, evt, session.RequestTime{Date: date}, "At what time? (for example 14:30)")
}

func (h *Handler) vehicleInput(ctx context.Context, evt chat.Event, p identity.Person, st session.State, text string) {
	if !h.require(ctx, evt, p, identity.RoleInspector) {
		h.clearSession(ctx, evt.UserID)
		return
	}
	switch st := st.(type) {
	case session.VehiclePrefix:
		prefix, err := fleet.NormalizePrefix(text)
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		taken, err := h.fleet.PrefixTaken(ctx, prefix)
		if err != nil {
			h.fail(ctx, evt, err)
			return
		}
		if taken {
			h.reply(ctx, evt, fmt.Sprintf("Prefix %s is already registered. Enter another prefix or send /cancel.", prefix), nil)
			return
		}
		h.startSession(ctx, evt, session.VehicleName{Prefix: prefix}, "Enter the vehicle name:")

	case session.VehicleName:
		name, err := fleet.ValidateName(text)
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		h.startSession(ctx, evt, session.VehicleModel{Prefix: st.Prefix, Name: name}, "Enter the model:")

	case session.VehicleModel:
		model, err := fleet.ValidateModel(text)
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		h.startSession(ctx, evt, session.VehiclePlate{Prefix: st.Prefix, Name: st.Name, Model: model}, "Enter the plate (ABC-1234):")

	case session.VehiclePlate:
		plate, err := fleet.NormalizePlate(text)
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		h.startSession(ctx, evt, session.VehicleOdometer{Prefix: st.Prefix, Name: st.Name, Model: st.Model, Plate: plate}, "Enter the current odometer in km:")

	case session.VehicleOdometer:
		km, err := fleet.ParseOdometer(text)
		if err != nil {
			h.retry(ctx, evt, err)
			return
		}
		h.startSession(ctx, evt, session.VehicleStatus{Prefix: st.Prefix, Name: st.Name, Model: st.Model, Plate: st.Plate, Odometer: km},
			"Choose the initial status:", statusButtons(workflow.ActionNewStatus, "")...)

	case session.VehicleStatus:
		h.reply(ctx, evt, useButtons, nil)
	}
}

// registerVehicle finishes /addvehicle once a status button is pressed.
func (h *Handler) registerVehicle(ctx context.Context, evt chat.Event, st session.VehicleStatus, status string) {
	v, err := h.fleet.Register(ctx, models.Vehicle{
		Prefix:   st.Prefix,
		Name:     st.Name,
		Model:    st.Model,
		Plate:    st.Plate,
		Odometer: st.Odometer,
		Status:   status,
	})
	h.clearSession(ctx, evt.UserID)
	if err != nil {
		h.fail(ctx, evt, err)
		return
	}
	loggerFrom(ctx, h.log).Info("vehicle registered", zap.String("prefix", v.Prefix))
	h.answer(ctx, evt, "", false)
	h.edit(ctx, evt, fmt.Sprintf("Vehicle registered\n\n%s - %s\nModel: %s\nPlate: %s\nOdometer: %d km\nStatus: %s",
		v.Prefix, v.Name, v.Model, v.Plate, v.Odometer, fleet.StatusLabel(v.Status)))
}

func (h *Handler) odometerInput(ctx context.Context, evt chat.Event, p identity.Person, st session.State, text string) {
	km, err := fleet.ParseOdometer(text)
	if err != nil {
		h.retry(ctx, evt, err)
		return
	}
	a := workflow.Action{Actor: p}
	var req models.Request
	switch st := st.(type) {
	case session.StartOdometer:
		a.Code = st.Code
		req, err = h.engine.RecordStartOdometer(ctx, a, km)
	case session.EndOdometer:
		a.Code = st.Code
		req, err = h.engine.RecordEndOdometer(ctx, a, km)
	}
	if err != nil {
		switch workflow.Classify(err) {
		case workflow.KindInvalid:
			h.retry(ctx, evt, err)
			return
		case workflow.KindInfrastructure:
		default:
			// The request moved on or was never theirs; the step is over.
			h.clearSession(ctx, evt.UserID)
		}
		h.fail(ctx, evt, err)
		return
	}
	h.clearSession(ctx, evt.UserID)
	if req.Status == models.StatusFinalized {
		h.reply(ctx, evt, fmt.Sprintf("Final odometer recorded. Request %s is finalized, thank you.", req.Code), nil)
		return
	}
	h.reply(ctx, evt, fmt.Sprintf("Start odometer recorded: %d km. Drive safely.", km), nil)
}
