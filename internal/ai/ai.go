package ai

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// AIService holds the Gemini client and the read-only database connection.
// The read-only pool is a deliberate security boundary: the enhancement
// context queries can never write.
type AIService struct {
	Client *genai.Client
	DB     *sql.DB
}

// NewAIService initializes the Gemini client.
func NewAIService(apiKey string, dbReadOnly *sql.DB) (*AIService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &AIService{Client: client, DB: dbReadOnly}, nil
}

// EnhancePrompt rewrites a user's raw scene description into a
// generation-ready prompt for the target model. Recent prompts from the
// same user are passed as context so a series of generations stays
// stylistically consistent. Callers should fall back to the raw prompt
// if this returns an error; a generation must never fail because
// enhancement did.
func (s *AIService) EnhancePrompt(ctx context.Context, userID int64, rawPrompt, modelName string) (string, error) {
	model := s.Client.GenerativeModel("gemini-1.5-flash")

	recent := s.recentPrompts(userID)
	recentContext := "none"
	if len(recent) > 0 {
		recentContext = strings.Join(recent, "\n- ")
	}

	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(fmt.Sprintf(`
			You are the Lumora prompt engineer. Rewrite the user's scene
			description into a single detailed prompt for the %q image/video model.
			Keep the user's intent, add lighting, composition and style detail.
			Recent prompts from this user (match their style):
			- %s
			Rules: output ONLY the rewritten prompt, no commentary.
		`, modelName, recentContext))},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(rawPrompt))
	if err != nil {
		return "", fmt.Errorf("error enhancing prompt: %w", err)
	}

	enhanced := extractText(resp)
	if enhanced == "" {
		return "", fmt.Errorf("model returned no text for prompt enhancement")
	}
	return enhanced, nil
}

// recentPrompts pulls up to three of the user's latest prompts through
// the read-only pool. Best effort: an empty slice on any error.
func (s *AIService) recentPrompts(userID int64) []string {
	rows, err := s.DB.Query(`
		SELECT prompt FROM generation_requests
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT 3`, userID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var prompts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil
		}
		prompts = append(prompts, p)
	}
	return prompts
}

func extractText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
