package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/fleet"
	"github.com/zulandar/motorpool/internal/identity"
	"github.com/zulandar/motorpool/internal/models"
	"github.com/zulandar/motorpool/internal/session"
	"github.com/zulandar/motorpool/internal/workflow"
)

const termsText = `Terms of responsibility

By requesting a vehicle you confirm that you hold a valid driving licence, that the vehicle will be used for official duty only, and that you will return it with the log book filled in and report any damage.

Do you accept?`

// cmdStart greets linked users and starts the login flow for unknown ones.
func (h *Handler) cmdStart(ctx context.Context, evt chat.Event) {
	p, err := h.dir.Authenticate(ctx, evt.UserID)
	if err == nil {
		h.clearSession(ctx, evt.UserID)
		h.reply(ctx, evt, fmt.Sprintf("Welcome back, %s (%s).\n\n%s", p.Name, p.Role.Label(), helpText(p.Role)), nil)
		return
	}
	if workflow.Classify(err) == workflow.KindInfrastructure {
		h.fail(ctx, evt, err)
		return
	}
	h.startSession(ctx, evt, session.LoginCPF{}, "Welcome to the motor pool. To log in, enter your CPF (11 digits):")
}

func (h *Handler) cmdRequest(ctx context.Context, evt chat.Event, p identity.Person) {
	if !h.require(ctx, evt, p, identity.RoleRequester) {
		return
	}
	h.startSession(ctx, evt, session.RequestTerms{}, termsText,
		chat.Row(
			chat.Button{Label: "Accept", Data: workflow.CallbackData(workflow.ActionTerms, "accept")},
			chat.Button{Label: "Cancel", Data: workflow.CallbackData(workflow.ActionTerms, "decline")},
		))
}

func (h *Handler) cmdCancelRequest(ctx context.Context, evt chat.Event, p identity.Person, code string) {
	req, err := h.engine.Cancel(ctx, workflow.Action{Actor: p, Code: code})
	if err != nil {
		h.fail(ctx, evt, err)
		return
	}
	h.reply(ctx, evt, fmt.Sprintf("Request %s cancelled.", req.Code), nil)
}

func (h *Handler) cmdStatus(ctx context.Context, evt chat.Event, p identity.Person) {
	reqs, err := h.engine.ListForRequester(ctx, p.UserID, statusListLimit)
	if err != nil {
		h.fail(ctx, evt, err)
		return
	}
	h.reply(ctx, evt, statusList(reqs, h.engine.Location()), nil)
}

func (h *Handler) cmdVehicles(ctx context.Context, evt chat.Event) {
	vehicles, err := h.fleet.List(ctx)
	if err != nil {
		h.fail(ctx, evt, err)
		return
	}
	h.reply(ctx, evt, vehicleList(vehicles), nil)
}

// cmdVehicleStatus offers every vehicle as a button; the status choice
// follows on a second keyboard.
func (h *Handler) cmdVehicleStatus(ctx context.Context, evt chat.Event) {
	vehicles, err := h.fleet.List(ctx)
	if err != nil {
		h.fail(ctx, evt, err)
		return
	}
	if len(vehicles) == 0 {
		h.reply(ctx, evt, "No vehicles registered. Use /addvehicle first.", nil)
		return
	}
	rows := make([][]chat.Button, 0, len(vehicles))
	for _, v := range vehicles {
		rows = append(rows, chat.Row(chat.Button{
			Label: fmt.Sprintf("%s - %s (%s)", v.Prefix, v.Name, fleet.StatusLabel(v.Status)),
			Data:  workflow.CallbackData(workflow.ActionPickStatus, fmt.Sprint(v.ID)),
		}))
	}
	h.reply(ctx, evt, "Which vehicle?", rows)
}

func statusButtons(action string, exclude string, prefixArgs ...string) [][]chat.Button {
	rows := make([][]chat.Button, 0, len(fleet.ManualStatuses))
	for _, s := range fleet.ManualStatuses {
		if s == exclude {
			continue
		}
		args := append(append([]string{}, prefixArgs...), s)
		rows = append(rows, chat.Row(chat.Button{Label: fleet.StatusLabel(s), Data: workflow.CallbackData(action, args...)}))
	}
	return rows
}

func roleButtons() [][]chat.Button {
	rows := make([][]chat.Button, 0, len(identity.Roles))
	for _, r := range identity.Roles {
		rows = append(rows, chat.Row(chat.Button{Label: r.Label(), Data: workflow.CallbackData(workflow.ActionRole, string(r))}))
	}
	return rows
}

func todayButton() [][]chat.Button {
	return [][]chat.Button{chat.Row(chat.Button{Label: "Today", Data: workflow.CallbackData(workflow.ActionToday)})}
}

func helpText(role identity.Role) string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	if role == "" {
		b.WriteString("/start - log in with your CPF and registration\n/help - this message")
		return b.String()
	}
	b.WriteString("/request - request a vehicle\n")
	b.WriteString("/status - your latest requests\n")
	b.WriteString("/vehicles - the fleet and how many vehicles are available\n")
	b.WriteString("/cancel - abort the current operation\n")
	b.WriteString("/cancel CODE - cancel a request nobody has picked up yet\n")
	if identity.HasPermission(role, identity.RoleInspector) {
		b.WriteString("/addvehicle - register a vehicle\n")
		b.WriteString("/vehiclestatus - change a vehicle's status\n")
		b.WriteString("/adduser - enrol a user\n")
	}
	b.WriteString("/help - this message")
	return b.String()
}

func vehicleList(vehicles []models.Vehicle) string {
	if len(vehicles) == 0 {
		return "No vehicles registered."
	}
	var b strings.Builder
	available := 0
	b.WriteString("Fleet\n\n")
	for _, v := range vehicles {
		if v.Status == models.VehicleAvailable {
			available++
		}
		fmt.Fprintf(&b, "%s - %s (%s, %s): %s, %d km\n", v.Prefix, v.Name, v.Model, v.Plate, fleet.StatusLabel(v.Status), v.Odometer)
	}
	fmt.Fprintf(&b, "\nAvailable: %d of %d", available, len(vehicles))
	return b.String()
}

func statusList(reqs []models.Request, loc *time.Location) string {
	if len(reqs) == 0 {
		return "You have no requests yet. Send /request to make one."
	}
	var b strings.Builder
	b.WriteString("Your latest requests\n\n")
	for _, r := range reqs {
		fmt.Fprintf(&b, "%s - %s - %s", r.Code, r.NeedAt.In(loc).Format(workflow.DisplayLayout), workflow.StatusLabel(r.Status))
		if r.VehiclePrefix != "" {
			fmt.Fprintf(&b, " - %s", r.VehiclePrefix)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
