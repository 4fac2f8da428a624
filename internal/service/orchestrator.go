package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/omni-assistant/backend/internal/ai"
	"github.com/omni-assistant/backend/internal/models"
)

// DefaultFallbackMessage is sent when a tenant has not configured one.
const DefaultFallbackMessage = "Sorry, I encountered an error processing your message. Please try again later."

// KnowledgeSearcher is the retrieval collaborator. Implementations degrade to
// an empty context on failure; they never fail the exchange.
type KnowledgeSearcher interface {
	Search(ctx context.Context, businessID, query string, topK int) string
}

// ChatResult is the orchestrator's FINALIZE output.
type ChatResult struct {
	Content     string
	TokenCount  int
	LatencyMs   int64
	Model       string
	ToolCalls   []ai.ToolCall
	ToolResults []string
	FellBack    bool
}

// Orchestrator runs the bounded tool-calling loop: build prompt, invoke the
// model, execute requested tools, feed results back, finalize. Provider
// failures get one retry with backoff and then degrade to the tenant fallback
// message; the customer always receives a reply.
type Orchestrator struct {
	AI            ai.Client
	Knowledge     KnowledgeSearcher
	Tools         *ToolExecutor
	Logger        zerolog.Logger
	MaxToolRounds int
	KnowledgeTopK int
	Temperature   float64
	MaxTokens     int
	RetryBackoff  time.Duration
}

func (o *Orchestrator) maxRounds() int {
	if o.MaxToolRounds <= 0 {
		return 5
	}
	return o.MaxToolRounds
}

func (o *Orchestrator) topK() int {
	if o.KnowledgeTopK <= 0 {
		return 5
	}
	return o.KnowledgeTopK
}

// Respond handles one user turn. history is the bounded recent window,
// excluding the turn being answered.
func (o *Orchestrator) Respond(ctx context.Context, tc ToolContext, history []models.Message, userMessage string) ChatResult {
	start := time.Now()

	knowledgeCtx := ""
	if o.Knowledge != nil {
		knowledgeCtx = o.Knowledge.Search(ctx, tc.Business.ID, userMessage, o.topK())
	}

	messages := []ai.Message{{Role: "system", Content: buildSystemPrompt(tc.Business, tc.Customer, knowledgeCtx)}}
	for _, m := range history {
		role := "assistant"
		if m.Role == models.RoleUser {
			role = "user"
		}
		messages = append(messages, ai.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, ai.Message{Role: "user", Content: userMessage})

	var (
		finalContent  string
		lastContent   string
		executedCalls []ai.ToolCall
		toolResults   []string
		totalTokens   int
		modelID       string
	)

	for round := 0; round < o.maxRounds(); round++ {
		resp, err := o.invokeWithRetry(ctx, ai.Request{
			Messages:    messages,
			Tools:       ToolSchemas(),
			Temperature: o.Temperature,
			MaxTokens:   o.MaxTokens,
		})
		if err != nil {
			o.Logger.Error().Err(err).
				Str("business_id", tc.Business.ID).
				Str("conversation_id", tc.Conversation.ID).
				Int("round", round).
				Msg("model invocation exhausted, falling back")
			return ChatResult{
				Content:     fallbackMessage(tc.Business),
				LatencyMs:   time.Since(start).Milliseconds(),
				ToolCalls:   executedCalls,
				ToolResults: toolResults,
				FellBack:    true,
			}
		}
		totalTokens += resp.TotalTokens
		if resp.Model != "" {
			modelID = resp.Model
		}

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}
		lastContent = resp.Content

		messages = append(messages, ai.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Some models repeat a tool_call_id within one response; each id runs
		// at most once.
		seen := make(map[string]bool, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			if seen[call.ID] {
				continue
			}
			seen[call.ID] = true

			result := o.Tools.Execute(ctx, tc, call)
			executedCalls = append(executedCalls, call)
			toolResults = append(toolResults, result)
			messages = append(messages, ai.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}

	fellBack := false
	if finalContent == "" {
		// Tool-round bound exceeded: finalize with whatever is available plus
		// the fallback.
		parts := make([]string, 0, 2)
		if strings.TrimSpace(lastContent) != "" {
			parts = append(parts, strings.TrimSpace(lastContent))
		}
		parts = append(parts, fallbackMessage(tc.Business))
		finalContent = strings.Join(parts, "\n\n")
		fellBack = true
	}

	return ChatResult{
		Content:     finalContent,
		TokenCount:  totalTokens,
		LatencyMs:   time.Since(start).Milliseconds(),
		Model:       modelID,
		ToolCalls:   executedCalls,
		ToolResults: toolResults,
		FellBack:    fellBack,
	}
}

// invokeWithRetry calls the model once and retries a single time with backoff
// on any provider error; timeouts and rate limits are the expected cases.
func (o *Orchestrator) invokeWithRetry(ctx context.Context, req ai.Request) (ai.Response, error) {
	resp, err := o.AI.ChatCompletion(ctx, req)
	if err == nil {
		return resp, nil
	}
	o.Logger.Warn().Err(err).Msg("model invocation failed, retrying once")

	backoff := o.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return ai.Response{}, err
	}
	return o.AI.ChatCompletion(ctx, req)
}

func fallbackMessage(b models.Business) string {
	if strings.TrimSpace(b.AIFallbackMessage) != "" {
		return b.AIFallbackMessage
	}
	return DefaultFallbackMessage
}

func buildSystemPrompt(b models.Business, customer *models.Customer, knowledgeCtx string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are the AI assistant for %s, a %s business.\n\n", b.Name, strings.ToLower(b.Industry))

	sb.WriteString("BUSINESS INFORMATION:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", b.Name)
	fmt.Fprintf(&sb, "- Phone: %s\n", orDefault(b.Phone, "Not provided"))
	fmt.Fprintf(&sb, "- Email: %s\n", orDefault(b.Email, "Not provided"))
	fmt.Fprintf(&sb, "- Address: %s\n", orDefault(b.Address, "Not provided"))
	fmt.Fprintf(&sb, "- Website: %s\n", orDefault(b.Website, "Not provided"))
	fmt.Fprintf(&sb, "- Hours: %s\n", formatHours(b.Hours))

	if b.ServicesOffered != "" {
		fmt.Fprintf(&sb, "\nSERVICES:\n%s\n", b.ServicesOffered)
	}

	fmt.Fprintf(&sb, "\nRELEVANT KNOWLEDGE:\n%s\n", orDefault(knowledgeCtx, "No specific knowledge available."))

	sb.WriteString("\nCUSTOMER CONTEXT:\n")
	if customer != nil {
		fmt.Fprintf(&sb, "- Name: %s\n", orDefault(customer.Name, "Unknown"))
		fmt.Fprintf(&sb, "- Previous visits: %d\n", customer.VisitCount)
		if customer.Notes != "" {
			fmt.Fprintf(&sb, "- Notes: %s\n", customer.Notes)
		}
	} else {
		sb.WriteString("- Name: Unknown\n- Previous visits: 0\n")
	}

	sb.WriteString(`
YOUR CAPABILITIES:
1. Answer questions using the knowledge above
2. Check appointment availability
3. Book appointments
4. Escalate to human when needed

RULES:
`)
	fmt.Fprintf(&sb, "- Be helpful, %s, and concise\n", orDefault(b.AIPersonality, "professional"))
	sb.WriteString(`- Use the knowledge base to answer accurately
- Don't make up information
- For appointments, always confirm date, time, and service
- Escalate complaints or complex issues to human
`)
	if b.EscalationKeywords != "" {
		fmt.Fprintf(&sb, "- If the customer brings up any of these topics, offer to connect them with a human: %s\n", b.EscalationKeywords)
	}
	if b.AIInstructions != "" {
		fmt.Fprintf(&sb, "\nADDITIONAL INSTRUCTIONS:\n%s\n", b.AIInstructions)
	}
	return sb.String()
}

var weekdayOrder = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// formatHours renders the operating-hours structure, omitting closed days.
func formatHours(hours models.BusinessHours) string {
	if len(hours) == 0 {
		return "Not specified"
	}
	var parts []string
	for _, day := range weekdayOrder {
		h, ok := hours[day]
		if !ok || h.Open == "" || h.Close == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s - %s", day, h.Open, h.Close))
	}
	if len(parts) == 0 {
		return "Not specified"
	}
	return strings.Join(parts, ", ")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
