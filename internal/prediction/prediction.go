// Package prediction estimates crossing wait times with a generative model,
// optionally letting the model fetch the train schedule through a tool call.
package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/diagnosis/railwatch/internal/schedule"
	"github.com/diagnosis/railwatch/pkg/logger"
	"github.com/diagnosis/railwatch/pkg/metrics"
)

var (
	ErrInvalidInput = errors.New("invalid prediction input")
	ErrProvider     = errors.New("prediction provider failed")
)

const (
	scheduleToolName = "getTrainSchedule"
	maxToolRounds    = 3
)

type Input struct {
	CrossingID            string `json:"crossingId"`
	TrainSchedule         string `json:"trainSchedule,omitempty"`
	HistoricalTrafficData string `json:"historicalTrafficData"`
	CurrentDayOfWeek      string `json:"currentDayOfWeek,omitempty"`
	CurrentTimeOfDay      string `json:"currentTimeOfDay,omitempty"`
}

type Output struct {
	EstimatedWaitTime string `json:"estimatedWaitTime"`
	Explanation       string `json:"explanation"`
}

// Generator is one model round trip.
type Generator interface {
	Generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GenAIGenerator struct {
	client *genai.Client
	model  string
}

func NewGenAIGenerator(ctx context.Context, apiKey, model string) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIGenerator{client: client, model: model}, nil
}

func (g *GenAIGenerator) Generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
}

type Config struct {
	// Schedules enables the schedule tool when non-nil.
	Schedules schedule.Store
	Location  *time.Location
	Timeout   time.Duration
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

type Predictor struct {
	gen Generator
	cfg Config
}

func NewPredictor(gen Generator, cfg Config) *Predictor {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Predictor{gen: gen, cfg: cfg}
}

func (p *Predictor) ToolEnabled() bool {
	return p.cfg.Schedules != nil
}

func (p *Predictor) Predict(ctx context.Context, in Input) (Output, error) {
	in, err := p.normalize(in)
	if err != nil {
		p.count("invalid")
		return Output{}, err
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	start := p.cfg.Now()
	out, err := p.run(ctx, in)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.PredictionTime.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.count("error")
		logger.ErrorContext(ctx, "Prediction failed", "error", err, "crossing_id", in.CrossingID)
		return Output{}, err
	}
	p.count("ok")
	return out, nil
}

func (p *Predictor) normalize(in Input) (Input, error) {
	in.CrossingID = strings.TrimSpace(in.CrossingID)
	in.HistoricalTrafficData = strings.TrimSpace(in.HistoricalTrafficData)
	in.TrainSchedule = strings.TrimSpace(in.TrainSchedule)

	if in.CrossingID == "" {
		return in, fmt.Errorf("%w: crossingId is required", ErrInvalidInput)
	}
	if in.HistoricalTrafficData == "" {
		return in, fmt.Errorf("%w: historicalTrafficData is required", ErrInvalidInput)
	}
	if in.TrainSchedule == "" && !p.ToolEnabled() {
		return in, fmt.Errorf("%w: trainSchedule is required", ErrInvalidInput)
	}

	now := p.cfg.Now().In(p.cfg.Location)
	if strings.TrimSpace(in.CurrentDayOfWeek) == "" {
		in.CurrentDayOfWeek = now.Weekday().String()
	}
	if strings.TrimSpace(in.CurrentTimeOfDay) == "" {
		in.CurrentTimeOfDay = now.Format("3:04 PM")
	}
	return in, nil
}

func (p *Predictor) run(ctx context.Context, in Input) (Output, error) {
	prompt, err := renderPrompt(in, p.ToolEnabled())
	if err != nil {
		return Output{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}
	if p.ToolEnabled() {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{scheduleTool}}}
	} else {
		// structured output cannot be combined with function calling
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = outputSchema
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	for round := 0; round <= maxToolRounds; round++ {
		resp, err := p.gen.Generate(ctx, contents, cfg)
		if err != nil {
			return Output{}, fmt.Errorf("%w: %v", ErrProvider, err)
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			return parseOutput(resp.Text())
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return Output{}, fmt.Errorf("%w: function call without content", ErrProvider)
		}

		contents = append(contents, resp.Candidates[0].Content)
		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			parts = append(parts, genai.NewPartFromFunctionResponse(call.Name, p.callTool(ctx, call)))
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	}
	return Output{}, fmt.Errorf("%w: too many tool calls", ErrProvider)
}

func (p *Predictor) callTool(ctx context.Context, call *genai.FunctionCall) map[string]any {
	if call.Name != scheduleToolName || p.cfg.Schedules == nil {
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)}
	}
	crossingID, _ := call.Args["crossingId"].(string)
	if crossingID == "" {
		return map[string]any{"error": "crossingId is required"}
	}
	entries, err := p.cfg.Schedules.ByCrossing(ctx, crossingID)
	if err != nil {
		logger.WarnContext(ctx, "Schedule tool failed", "error", err, "crossing_id", crossingID)
		return map[string]any{"error": err.Error()}
	}
	logger.DebugContext(ctx, "Schedule tool called", "crossing_id", crossingID, "entries", len(entries))
	return map[string]any{"output": entries}
}

func parseOutput(text string) (Output, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return Output{}, fmt.Errorf("%w: empty response", ErrProvider)
	}

	var out Output
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return Output{}, fmt.Errorf("%w: malformed response: %v", ErrProvider, err)
	}
	if strings.TrimSpace(out.EstimatedWaitTime) == "" {
		return Output{}, fmt.Errorf("%w: response has no estimate", ErrProvider)
	}
	return out, nil
}

func (p *Predictor) count(outcome string) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.Predictions.WithLabelValues(outcome).Inc()
	}
}

var scheduleTool = &genai.FunctionDeclaration{
	Name:        scheduleToolName,
	Description: "Fetches the upcoming train schedule for a specific railway crossing ID from the database.",
	Parameters: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"crossingId": {Type: genai.TypeString, Description: "The ID of the railway crossing to fetch schedules for."},
		},
		Required: []string{"crossingId"},
	},
}

var outputSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"estimatedWaitTime": {Type: genai.TypeString, Description: "The estimated wait time at the railway crossing."},
		"explanation":       {Type: genai.TypeString, Description: "Explanation of the estimate, considering current time and day."},
	},
	Required: []string{"estimatedWaitTime", "explanation"},
}
