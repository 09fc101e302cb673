package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const feedbackPrompt = `Jesteś ekspertem w legislacji i językoznawstwie. Przeanalizuj poniższy tekst aktu prawnego pod względem:

1. Zrozumiałość i klarowność - czy tekst jest jasny i łatwy do zrozumienia?
2. Spójność - czy terminologia jest konsystentna w całym tekście?
3. Poziom języka - czy tekst jest na poziomie B2 (nie zbyt trudny)?
4. Błędy ortograficzne i gramatyczne - czy są jakieś błędy?
5. Interpunkcja - czy interpunkcja jest prawidłowa?

Na podstawie analizy, wydaj werdykt:
- Jeśli tekst jest dobry (maksymalnie drobne uwagi) - odpowiedz "APPROVED" na początek
- Jeśli są znaczące problemy do poprawy - odpowiedz "REJECTED" na początek

Następnie krótko opisz swoje spostrzeżenia (max 2-3 zdania).

Tekst do analizy:
---
%s
---

Odpowiedź:`

const summaryPrompt = `Porównaj poniższe dwie wersje aktu prawnego i wygeneruj podsumowanie najważniejszych zmian oraz wyjaśnij ich wpływ na obywateli. Podsumowanie ma być krótkie, łatwe w odbiorze i napisane prostym, zrozumiałym językiem. Skup się na praktycznych konsekwencjach zmian.

Wersja wcześniejsza:
---
%s
---
Wersja późniejsza:
---
%s
---

Odpowiedź:`

// GeminiClient calls the generateContent endpoint of the Generative Language API.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewGeminiClient creates a client. timeout bounds each HTTP round trip; the
// caller's context may impose a shorter deadline.
func NewGeminiClient(baseURL, apiKey, model string, timeout time.Duration) *GeminiClient {
	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *GeminiClient) Review(ctx context.Context, text string) (Verdict, error) {
	answer, err := c.generate(ctx, fmt.Sprintf(feedbackPrompt, text))
	if err != nil {
		return Verdict{}, err
	}
	return ParseVerdict(answer)
}

func (c *GeminiClient) Summarize(ctx context.Context, from, to string) (string, error) {
	answer, err := c.generate(ctx, fmt.Sprintf(summaryPrompt, from, to))
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", ErrMalformed
	}
	return answer, nil
}

func (c *GeminiClient) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(raw), 200))
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrMalformed, err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, decoded.Error.Message)
	}
	if len(decoded.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformed)
	}

	var answer strings.Builder
	for _, p := range decoded.Candidates[0].Content.Parts {
		answer.WriteString(p.Text)
	}
	return answer.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
