package gemini

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultGenerationModel = "gemini-2.0-flash"

var ErrEmptyResponse = errors.New("empty response from model")

// DynamicGenerator produces chat completions with a fixed system
// instruction per call.
type DynamicGenerator struct {
	pool        *clientPool
	model       string
	temperature float32
}

func NewDynamicGenerator(svc SettingsReader, model string, opts ...option.ClientOption) *DynamicGenerator {
	if model == "" {
		model = DefaultGenerationModel
	}
	return &DynamicGenerator{
		pool:        &clientPool{settings: svc, clientOpts: opts},
		model:       model,
		temperature: 0.2,
	}
}

func (g *DynamicGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	client, err := g.pool.get(ctx)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(g.model)
	model.SetTemperature(g.temperature)
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	slog.DebugContext(ctx, "generating content", "model", g.model, "prompt_length", len(system)+len(user))
	resp, err := model.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return "", err
	}

	out := responseText(resp)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func (g *DynamicGenerator) Close() error { return g.pool.Close() }

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		// First candidate only.
		break
	}
	return strings.TrimSpace(sb.String())
}
