package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/motorpool/internal/chat"
	"github.com/zulandar/motorpool/internal/models"
)

func orNI(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

func vehicleLabel(r models.Request) string {
	if r.VehiclePrefix == "" {
		return "n/a"
	}
	return r.VehiclePrefix + " - " + r.VehicleName
}

func details(b *strings.Builder, r models.Request, loc *time.Location) {
	fmt.Fprintf(b, "Requester: %s\n", r.RequesterName)
	fmt.Fprintf(b, "Needed at: %s\n", r.NeedAt.In(loc).Format(DisplayLayout))
	fmt.Fprintf(b, "Reason: %s\n", r.Reason)
}

// RequesterView renders the requester's tracked message for the request's
// current status, with the buttons the requester may press next.
func RequesterView(r models.Request, loc *time.Location) (string, [][]chat.Button) {
	var b strings.Builder
	var buttons [][]chat.Button
	switch r.Status {
	case models.StatusAwaitingInspection:
		fmt.Fprintf(&b, "Request %s sent\n\n", r.Code)
		details(&b, r, loc)
		b.WriteString("\nStatus: waiting for an inspector. You will be notified as it progresses.")
		buttons = [][]chat.Button{chat.Row(chat.Button{Label: "Cancel request", Data: CallbackData(ActionCancel, r.Code)})}
	case models.StatusInInspection:
		fmt.Fprintf(&b, "Request %s under review\n\n", r.Code)
		details(&b, r, loc)
		fmt.Fprintf(&b, "\nStatus: being handled by inspector %s.", r.InspectorName)
	case models.StatusAwaitingAuthorization:
		fmt.Fprintf(&b, "Request %s awaiting authorization\n\n", r.Code)
		details(&b, r, loc)
		fmt.Fprintf(&b, "Inspector: %s\nVehicle: %s\n\nStatus: awaiting authorization.", r.InspectorName, vehicleLabel(r))
	case models.StatusAuthorized:
		fmt.Fprintf(&b, "Request %s authorized\n\n", r.Code)
		details(&b, r, loc)
		fmt.Fprintf(&b, "Vehicle: %s\nAuthorizer: %s\n\nStatus: authorized, waiting for key delivery.", vehicleLabel(r), r.AuthorizerName)
	case models.StatusDenied:
		fmt.Fprintf(&b, "Request %s not authorized\n\n", r.Code)
		fmt.Fprintf(&b, "Requester: %s\nVehicle: %s\nAuthorizer: %s\n\n", r.RequesterName, vehicleLabel(r), r.AuthorizerName)
		b.WriteString("Status: not authorized. Contact the authorizer for details.")
	case models.StatusDelivered:
		fmt.Fprintf(&b, "Keys delivered for %s\n\n", r.Code)
		fmt.Fprintf(&b, "Vehicle: %s\nRadio operator: %s\n\n", vehicleLabel(r), r.OperatorName)
		b.WriteString("Next step: enter the vehicle's starting odometer.")
		buttons = [][]chat.Button{chat.Row(chat.Button{Label: "Enter start odometer", Data: CallbackData(ActionStartKM, r.Code)})}
	case models.StatusInUse:
		fmt.Fprintf(&b, "Start odometer recorded for %s\n\n", r.Code)
		fmt.Fprintf(&b, "Vehicle: %s\nStart odometer: %d km\n\n", vehicleLabel(r), r.StartOdometer.Int64)
		b.WriteString("When you return the vehicle, press the button below to enter the final odometer.")
		buttons = [][]chat.Button{chat.Row(chat.Button{Label: "Enter final odometer", Data: CallbackData(ActionEndKM, r.Code)})}
	case models.StatusFinalized:
		return Summary(r, loc), nil
	case models.StatusCancelled:
		fmt.Fprintf(&b, "Request %s cancelled\n\n", r.Code)
		details(&b, r, loc)
	default:
		fmt.Fprintf(&b, "Request %s: %s", r.Code, r.Status)
	}
	return b.String(), buttons
}

// Summary is the final report of a finalized request.
func Summary(r models.Request, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Final summary %s\n\n", r.Code)
	fmt.Fprintf(&b, "Requester: %s\nInspector: %s\nAuthorizer: %s\nRadio operator: %s\n\n",
		r.RequesterName, orNI(r.InspectorName), orNI(r.AuthorizerName), orNI(r.OperatorName))
	fmt.Fprintf(&b, "Vehicle: %s\n", vehicleLabel(r))
	fmt.Fprintf(&b, "Requested: %s\n", r.CreatedAt.In(loc).Format(DisplayLayout))
	fmt.Fprintf(&b, "Needed at: %s\n", r.NeedAt.In(loc).Format(DisplayLayout))
	if r.DeliveredAt != nil {
		fmt.Fprintf(&b, "Keys delivered: %s\n", r.DeliveredAt.In(loc).Format(DisplayLayout))
	}
	if d, ok := r.Distance(); ok {
		fmt.Fprintf(&b, "\nStart odometer: %d km\nFinal odometer: %d km\nDistance: %d km\n", r.StartOdometer.Int64, r.EndOdometer.Int64, d)
	}
	fmt.Fprintf(&b, "\nReason: %s\n\nRequest finalized.", r.Reason)
	return b.String()
}

func claimPrompt(r models.Request, loc *time.Location) (string, [][]chat.Button) {
	var b strings.Builder
	fmt.Fprintf(&b, "New request %s\n\n", r.Code)
	details(&b, r, loc)
	b.WriteString("\nPress Claim to handle this request.")
	return b.String(), [][]chat.Button{chat.Row(chat.Button{Label: "Claim", Data: CallbackData(ActionClaim, r.Code)})}
}

func reminderText(r models.Request, waited time.Duration, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pending request %s\n\nThis request has been waiting for an inspector for more than %d minutes.\n", r.Code, int(waited/time.Minute))
	details(&b, r, loc)
	return b.String()
}

func handledText(r models.Request, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request %s claimed\n\nBeing handled by: %s\n\n", r.Code, r.InspectorName)
	details(&b, r, loc)
	return b.String()
}

func cancelledText(r models.Request) string {
	return fmt.Sprintf("Request %s was cancelled by %s.", r.Code, r.RequesterName)
}

// VehicleChoice renders the vehicle selection offered to the handling
// inspector.
func VehicleChoice(r models.Request, available []models.Vehicle, note string) (string, [][]chat.Button) {
	var b strings.Builder
	if note != "" {
		b.WriteString(note + "\n\n")
	}
	if len(available) == 0 {
		fmt.Fprintf(&b, "No vehicles available for %s right now. The request stays with you; refresh the list when one frees up.", r.Code)
		return b.String(), [][]chat.Button{chat.Row(chat.Button{Label: "Refresh list", Data: CallbackData(ActionVehicles, r.Code)})}
	}
	fmt.Fprintf(&b, "Select a vehicle for %s (%s):", r.Code, r.RequesterName)
	rows := make([][]chat.Button, 0, len(available))
	for _, v := range available {
		rows = append(rows, chat.Row(chat.Button{
			Label: v.Prefix + " - " + v.Name,
			Data:  CallbackData(ActionVehicle, r.Code, fmt.Sprint(v.ID)),
		}))
	}
	return b.String(), rows
}

func vehicleSelectedText(r models.Request) string {
	return fmt.Sprintf("Vehicle selected for %s\n\nVehicle: %s\n\nThe request was sent for authorization.", r.Code, vehicleLabel(r))
}

func authorizationPrompt(r models.Request, loc *time.Location) (string, [][]chat.Button) {
	var b strings.Builder
	fmt.Fprintf(&b, "Authorization needed for %s\n\n", r.Code)
	details(&b, r, loc)
	fmt.Fprintf(&b, "Inspector: %s\nVehicle: %s\n\nDo you authorize this request?", r.InspectorName, vehicleLabel(r))
	return b.String(), [][]chat.Button{
		chat.Row(chat.Button{Label: "Authorize", Data: CallbackData(ActionAuthorize, r.Code)}),
		chat.Row(chat.Button{Label: "Deny", Data: CallbackData(ActionDeny, r.Code)}),
	}
}

func decisionText(r models.Request, loc *time.Location) string {
	verb := "authorized"
	if r.Status == models.StatusDenied {
		verb = "not authorized"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Request %s %s by %s\n\n", r.Code, verb, r.AuthorizerName)
	fmt.Fprintf(&b, "Requester: %s\nNeeded at: %s\nVehicle: %s", r.RequesterName, r.NeedAt.In(loc).Format(DisplayLayout), vehicleLabel(r))
	return b.String()
}

func keysPrompt(r models.Request) (string, [][]chat.Button) {
	var b strings.Builder
	fmt.Fprintf(&b, "Key delivery for %s (authorized)\n\n", r.Code)
	fmt.Fprintf(&b, "Requester: %s\nVehicle: %s\nAuthorizer: %s\n\n", r.RequesterName, vehicleLabel(r), r.AuthorizerName)
	b.WriteString("Before handing over the keys: check the requester's identity, show the vehicle record and make sure the log book is filled in.\n\n")
	b.WriteString("Press Keys delivered once done.")
	return b.String(), [][]chat.Button{chat.Row(chat.Button{Label: "Keys delivered", Data: CallbackData(ActionKeys, r.Code)})}
}

func keysDeliveredText(r models.Request) string {
	return fmt.Sprintf("Keys delivered for %s\n\nDelivered by: %s\nRequester: %s\nVehicle: %s", r.Code, r.OperatorName, r.RequesterName, vehicleLabel(r))
}

var statusLabels = map[string]string{
	models.StatusAwaitingInspection:    "Awaiting inspection",
	models.StatusInInspection:          "In inspection",
	models.StatusAwaitingAuthorization: "Awaiting authorization",
	models.StatusAuthorized:            "Authorized",
	models.StatusDenied:                "Not authorized",
	models.StatusDelivered:             "Keys delivered",
	models.StatusInUse:                 "In use",
	models.StatusFinalized:             "Finalized",
	models.StatusCancelled:             "Cancelled",
}

// StatusLabel returns a display label for a request status.
func StatusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return status
}
