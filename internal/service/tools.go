package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/omni-assistant/backend/internal/ai"
	"github.com/omni-assistant/backend/internal/models"
)

const (
	// Platform minimum appointment length in minutes.
	MinAppointmentMinutes = 15
	// Applied when the model or service catalog does not specify a duration.
	DefaultAppointmentMinutes = 60

	slotIntervalMinutes = 30
)

// ToolExecutor implements the side-effecting handlers invoked from the
// orchestrator loop. Every executor returns a short natural-language string;
// failures become text fed back to the model, never pipeline errors.
type ToolExecutor struct {
	Store  Store
	Logger zerolog.Logger
}

// ToolContext is the resolved scope a tool call executes in.
type ToolContext struct {
	Business     models.Business
	Conversation models.Conversation
	Customer     *models.Customer
}

// ToolSchemas declares the fixed tool set advertised to the model.
func ToolSchemas() []ai.Tool {
	return []ai.Tool{
		ai.NewToolSchema("check_availability",
			"Check available appointment slots for a specific date",
			map[string]any{
				"date":      map[string]any{"type": "string", "description": "Date in YYYY-MM-DD format"},
				"serviceId": map[string]any{"type": "string", "description": "Optional service ID"},
			},
			[]string{"date"}),
		ai.NewToolSchema("book_appointment",
			"Book an appointment",
			map[string]any{
				"date":          map[string]any{"type": "string", "description": "Date in YYYY-MM-DD format"},
				"time":          map[string]any{"type": "string", "description": "Time in HH:MM format"},
				"serviceName":   map[string]any{"type": "string"},
				"customerName":  map[string]any{"type": "string"},
				"customerPhone": map[string]any{"type": "string"},
				"customerEmail": map[string]any{"type": "string"},
			},
			[]string{"date", "time", "serviceName"}),
		ai.NewToolSchema("escalate_to_human",
			"Transfer conversation to human agent",
			map[string]any{
				"reason": map[string]any{"type": "string"},
			},
			[]string{"reason"}),
	}
}

// Execute dispatches one tool call and renders its outcome as text. Argument
// parse or validation failures are reported the same way, so the model can
// correct itself on the next round.
func (e *ToolExecutor) Execute(ctx context.Context, tc ToolContext, call ai.ToolCall) string {
	name := call.Function.Name
	args := call.Function.Arguments

	var result string
	switch name {
	case "check_availability":
		result = e.checkAvailability(ctx, tc, args)
	case "book_appointment":
		result = e.bookAppointment(ctx, tc, args)
	case "escalate_to_human":
		result = e.escalateToHuman(ctx, tc, args)
	default:
		result = "Unknown tool: " + name
	}

	e.Logger.Info().
		Str("business_id", tc.Business.ID).
		Str("conversation_id", tc.Conversation.ID).
		Str("tool", name).
		Str("result", result).
		Msg("tool executed")
	return result
}

type availabilityArgs struct {
	Date      string `json:"date"`
	ServiceID string `json:"serviceId"`
}

func (e *ToolExecutor) checkAvailability(ctx context.Context, tc ToolContext, rawArgs string) string {
	var args availabilityArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil || args.Date == "" {
		return "Error: check_availability requires a date in YYYY-MM-DD format"
	}

	loc := businessLocation(tc.Business)
	day, err := time.ParseInLocation("2006-01-02", args.Date, loc)
	if err != nil {
		return fmt.Sprintf("Error: %q is not a valid date, expected YYYY-MM-DD", args.Date)
	}

	open, close, ok := openingWindow(tc.Business, day)
	if !ok {
		return fmt.Sprintf("%s is closed on %s", tc.Business.Name, args.Date)
	}

	booked, err := e.Store.ListAppointmentsBetween(ctx, tc.Business.ID, open, close)
	if err != nil {
		return "Error: could not load the appointment calendar, please try again"
	}

	var slots []string
	for t := open; t.Before(close); t = t.Add(slotIntervalMinutes * time.Minute) {
		taken := false
		for _, appt := range booked {
			if !t.Before(appt.StartTime) && t.Before(appt.EndTime) {
				taken = true
				break
			}
		}
		if !taken {
			slots = append(slots, t.Format(time.RFC3339))
		}
	}
	if len(slots) == 0 {
		return fmt.Sprintf("No available slots on %s", args.Date)
	}
	return fmt.Sprintf("Available slots on %s: %s", args.Date, strings.Join(slots, ", "))
}

type bookingArgs struct {
	Date          string `json:"date"`
	Time          string `json:"time"`
	StartTime     string `json:"startTime"`
	Duration      int    `json:"duration"`
	ServiceName   string `json:"serviceName"`
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	CustomerEmail string `json:"customerEmail"`
	Notes         string `json:"notes"`
}

func (e *ToolExecutor) bookAppointment(ctx context.Context, tc ToolContext, rawArgs string) string {
	var args bookingArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "Error: invalid arguments for book_appointment"
	}
	if args.ServiceName == "" {
		return "Error: book_appointment requires a serviceName"
	}

	loc := businessLocation(tc.Business)
	start, err := parseStartTime(args, loc)
	if err != nil {
		return "Error: " + err.Error()
	}

	duration := args.Duration
	if duration == 0 {
		duration = DefaultAppointmentMinutes
	}
	if duration < MinAppointmentMinutes {
		duration = MinAppointmentMinutes
	}

	customer := tc.Customer
	if customer == nil {
		created, err := e.Store.CreateCustomer(ctx, tc.Business.ID, args.CustomerName, args.CustomerPhone, args.CustomerEmail)
		if err != nil {
			return "Error: could not record customer details, please try again"
		}
		customer = &created
	}

	exists, err := e.Store.AppointmentExistsAt(ctx, customer.ID, start)
	if err != nil {
		return "Error: could not verify the appointment calendar, please try again"
	}
	if exists {
		return fmt.Sprintf("DuplicateBooking: an appointment for this customer at %s already exists", start.Format(time.RFC3339))
	}

	appt := models.Appointment{
		BusinessID:  tc.Business.ID,
		CustomerID:  customer.ID,
		ServiceName: args.ServiceName,
		StartTime:   start,
		EndTime:     start.Add(time.Duration(duration) * time.Minute),
		Duration:    duration,
		Timezone:    tc.Business.Timezone,
		Status:      models.AppointmentScheduled,
		Notes:       args.Notes,
	}
	if tc.Conversation.ID != "" {
		convID := tc.Conversation.ID
		appt.ConversationID = &convID
	}
	if _, err := e.Store.CreateAppointment(ctx, appt); err != nil {
		return "Error: the appointment could not be saved, please try again"
	}
	return fmt.Sprintf("Appointment booked for %s at %s for %s",
		start.Format("2006-01-02"), start.Format("15:04"), args.ServiceName)
}

type escalateArgs struct {
	Reason string `json:"reason"`
}

func (e *ToolExecutor) escalateToHuman(ctx context.Context, tc ToolContext, rawArgs string) string {
	var args escalateArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil || strings.TrimSpace(args.Reason) == "" {
		return "Error: escalate_to_human requires a reason"
	}
	err := e.Store.TransitionConversation(ctx, tc.Conversation.ID, models.ConversationEscalated, args.Reason)
	if errors.Is(err, models.ErrInvalidTransition) {
		return "Cannot escalate: the conversation is already resolved"
	}
	if err != nil {
		return "Error: escalation failed, please try again"
	}
	return "Conversation escalated to human agent"
}

// parseStartTime accepts either an ISO startTime (voice tool calls) or the
// separate date + time fields the chat tool schema uses.
func parseStartTime(args bookingArgs, loc *time.Location) (time.Time, error) {
	if args.StartTime != "" {
		if t, err := time.Parse(time.RFC3339, args.StartTime); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation("2006-01-02T15:04:05", args.StartTime, loc); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("%q is not a valid ISO timestamp", args.StartTime)
	}
	if args.Date == "" || args.Time == "" {
		return time.Time{}, errors.New("book_appointment requires date and time")
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", args.Date+" "+args.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q %q is not a valid date and time", args.Date, args.Time)
	}
	return t, nil
}

func businessLocation(b models.Business) *time.Location {
	if b.Timezone != "" {
		if loc, err := time.LoadLocation(b.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// openingWindow resolves the business hours for the given day into concrete
// instants, reporting false when closed.
func openingWindow(b models.Business, day time.Time) (time.Time, time.Time, bool) {
	weekday := strings.ToLower(day.Weekday().String())
	hours, ok := b.Hours[weekday]
	if !ok || hours.Open == "" || hours.Close == "" {
		return time.Time{}, time.Time{}, false
	}
	open, err := time.Parse("15:04", hours.Open)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	close, err := time.Parse("15:04", hours.Close)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	loc := day.Location()
	openAt := time.Date(day.Year(), day.Month(), day.Day(), open.Hour(), open.Minute(), 0, 0, loc)
	closeAt := time.Date(day.Year(), day.Month(), day.Day(), close.Hour(), close.Minute(), 0, 0, loc)
	if !closeAt.After(openAt) {
		return time.Time{}, time.Time{}, false
	}
	return openAt, closeAt, true
}
