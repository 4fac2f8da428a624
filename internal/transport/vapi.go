package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/omni-assistant/backend/internal/models"
)

const defaultVapiBaseURL = "https://api.vapi.ai"

// VapiClient provisions per-tenant voice assistants. The assistant is
// configured to call back into our webhook for tool execution, so voice
// bookings share the same executor as chat.
type VapiClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Logger  zerolog.Logger
}

func NewVapiClient(baseURL, apiKey string, logger zerolog.Logger) *VapiClient {
	if baseURL == "" {
		baseURL = defaultVapiBaseURL
	}
	return &VapiClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
		Logger:  logger,
	}
}

// CreateAssistant provisions a voice assistant for the business and returns
// its id. serverURL is our public webhook endpoint for tool calls.
func (c *VapiClient) CreateAssistant(ctx context.Context, b models.Business, serverURL string) (string, error) {
	greeting := b.AIGreeting
	if greeting == "" {
		greeting = fmt.Sprintf("Thank you for calling %s. How can I help you today?", b.Name)
	}

	payload := map[string]any{
		"name":         b.Name + " Receptionist",
		"firstMessage": greeting,
		"serverUrl":    serverURL,
		"model": map[string]any{
			"provider": "openai",
			"model":    "gpt-4",
			"messages": []map[string]string{{
				"role": "system",
				"content": fmt.Sprintf(
					"You are the phone receptionist for %s. Answer questions about the business, book appointments, and keep responses short and natural for voice.",
					b.Name),
			}},
			"tools": []map[string]any{{
				"type": "function",
				"function": map[string]any{
					"name":        "book_appointment",
					"description": "Book an appointment for the caller",
					"parameters": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"startTime": map[string]any{
								"type":        "string",
								"description": "Appointment start as an ISO 8601 timestamp",
							},
							"duration": map[string]any{
								"type":        "number",
								"description": "Duration in minutes",
							},
							"serviceName":  map[string]any{"type": "string"},
							"customerName": map[string]any{"type": "string"},
						},
						"required": []string{"startTime", "serviceName"},
					},
				},
			}},
		},
		"voice": map[string]any{
			"provider": "11labs",
			"voiceId":  "rachel",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal assistant payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/assistant", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build assistant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vapi request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("vapi status %d: %s", resp.StatusCode, string(detail))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode assistant response: %w", err)
	}
	return created.ID, nil
}
