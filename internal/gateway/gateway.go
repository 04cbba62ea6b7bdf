// Package gateway is the boundary to the Gemini API. It assembles
// requests from conversation turns and the context snapshot, applies the
// configured generation and safety settings, classifies provider failures
// and retries the retryable ones with bounded backoff.
package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/cfreitas/erpagent/internal/config"
	"github.com/cfreitas/erpagent/internal/fileproc"
	"github.com/cfreitas/erpagent/internal/model"
	"github.com/cfreitas/erpagent/internal/registry"
)

// Request is one model invocation. History carries the persisted turns in
// order; Message, when non-empty, is appended as the final user turn with
// any attachment parts.
type Request struct {
	// System is the base system instruction.
	System string
	// Context is the rendered context snapshot, folded into the system
	// instruction.
	Context string
	History []model.Message
	Message string
	Files   []fileproc.Part
	// Tools is the enabled function set to offer. Ignored when function
	// calling is toggled off.
	Tools []*registry.Declaration
}

// Response is a parsed provider reply: either terminal text or one or
// more proposed function calls.
type Response struct {
	Text          string
	FunctionCalls []model.FunctionCall
	Citations     []model.Citation
	// Confidence is provider-supplied when available. Gemini does not
	// report one, so it stays nil.
	Confidence *float64
}

// Gateway is what the orchestrator depends on; fakes implement it in
// tests.
type Gateway interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// Gemini implements Gateway over google.golang.org/genai.
type Gemini struct {
	client *genai.Client
	cfg    *config.Settings

	// generate and sleep are swapped in tests: scripted provider
	// outcomes and recorded backoff waits instead of real calls.
	generate func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewGemini(client *genai.Client, cfg *config.Settings) *Gemini {
	return &Gemini{
		client:   client,
		cfg:      cfg,
		generate: client.Models.GenerateContent,
		sleep:    sleepCtx,
	}
}

// Send performs one generate-content call, retrying per the taxonomy:
// rate limits back off exponentially within the attempt and elapsed-time
// caps, timeouts retry once, auth and malformed responses never retry.
func (g *Gemini) Send(ctx context.Context, req Request) (*Response, error) {
	contents, err := buildContents(req)
	if err != nil {
		return nil, err
	}
	genCfg := g.buildConfig(req)

	maxAttempts := g.cfg.Gemini.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	deadline := time.Now().Add(g.cfg.Gemini.RetryMaxWait)
	timeoutRetried := false

	// Rate-limit attempts are counted separately so a timeout retry does
	// not consume one or skew the backoff schedule.
	for rateAttempt := 0; ; {
		resp, err := g.generate(ctx, g.cfg.Gemini.Model, contents, genCfg)
		if err == nil {
			return g.parse(resp)
		}

		kind := classify(err)
		switch kind {
		case KindAuth, KindMalformed:
			return nil, g.wrap(kind, err)
		case KindTimeout:
			if timeoutRetried || ctx.Err() != nil {
				return nil, g.wrap(kind, err)
			}
			timeoutRetried = true
			retriesTotal.WithLabelValues(string(kind)).Inc()
			log.Warn("gateway: request timed out, retrying once")
		default: // KindRateLimited
			if rateAttempt >= maxAttempts-1 || time.Now().After(deadline) {
				return nil, g.wrap(KindRateLimited, err)
			}
			shift := rateAttempt
			if shift > 6 {
				shift = 6
			}
			wait := g.cfg.Gemini.RetryBaseDelay << shift
			wait += time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
			rateAttempt++
			retriesTotal.WithLabelValues(string(KindRateLimited)).Inc()
			log.WithField("wait", wait).Warn("gateway: rate limited, backing off")
			if err := g.sleep(ctx, wait); err != nil {
				return nil, g.wrap(KindTimeout, err)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (g *Gemini) buildConfig(req Request) *genai.GenerateContentConfig {
	system := req.System
	if req.Context != "" {
		system = system + "\n\n" + req.Context
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
		Temperature:     genai.Ptr(float32(g.cfg.Gemini.Temperature)),
		MaxOutputTokens: int32(g.cfg.Gemini.MaxTokens),
		SafetySettings:  g.safetySettings(),
	}

	// Function declarations and the search tool are mutually exclusive on
	// the API side; function calling wins when both features are on.
	if g.cfg.Assistant.EnableFunctionCalling && len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, d := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 d.Name,
				Description:          d.Description,
				ParametersJsonSchema: d.Parameters,
				ResponseJsonSchema:   d.Response,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	} else if g.cfg.Assistant.EnableGrounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	return cfg
}

func (g *Gemini) safetySettings() []*genai.SafetySetting {
	if len(g.cfg.Gemini.SafetySettings) == 0 {
		return nil
	}

	categories := make([]string, 0, len(g.cfg.Gemini.SafetySettings))
	for category := range g.cfg.Gemini.SafetySettings {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, category := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(g.cfg.Gemini.SafetySettings[category]),
		})
	}
	return settings
}

// buildContents converts persisted turns into provider contents. Function
// results travel back as user-role function-response parts, matching the
// Gemini conversation contract.
func buildContents(req Request) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)

	for i := range req.History {
		m := &req.History[i]
		switch m.Role {
		case model.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		case model.RoleAssistant:
			parts := []*genai.Part{}
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			if m.FunctionCall != nil {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   m.FunctionCall.ID,
						Name: m.FunctionCall.Name,
						Args: m.FunctionCall.Args,
					},
				})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case model.RoleFunction:
			if m.FunctionCall == nil {
				continue
			}
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.FunctionCall.ID,
						Name:     m.FunctionCall.Name,
						Response: m.FunctionResult,
					},
				}},
			})
		}
	}

	if req.Message != "" || len(req.Files) > 0 {
		parts := []*genai.Part{}
		if req.Message != "" {
			parts = append(parts, &genai.Part{Text: req.Message})
		}
		for _, f := range req.Files {
			if f.Text != "" {
				parts = append(parts, &genai.Part{Text: f.Text})
				continue
			}
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: f.MIME, Data: f.Data},
			})
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
	}

	if len(contents) == 0 {
		return nil, &Error{Kind: KindMalformed, Message: "empty request: no turns to send"}
	}
	return contents, nil
}

func (g *Gemini) parse(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, &Error{
			Kind:    KindMalformed,
			Message: fmt.Sprintf("response blocked by safety settings: %s", resp.PromptFeedback.BlockReason),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &Error{Kind: KindMalformed, Message: "provider returned no candidates"}
	}

	candidate := resp.Candidates[0]
	out := &Response{}
	var text strings.Builder

	for _, part := range candidate.Content.Parts {
		if part.FunctionCall != nil {
			out.FunctionCalls = append(out.FunctionCalls, model.FunctionCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
			continue
		}
		text.WriteString(part.Text)
	}
	out.Text = text.String()

	if gm := candidate.GroundingMetadata; gm != nil {
		for _, chunk := range gm.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			out.Citations = append(out.Citations, model.Citation{
				URI:   chunk.Web.URI,
				Title: chunk.Web.Title,
			})
		}
	}

	if out.Text == "" && len(out.FunctionCalls) == 0 {
		return nil, &Error{Kind: KindMalformed, Message: "provider returned neither text nor a function call"}
	}
	return out, nil
}

// wrap converts a provider error into a classified gateway Error with the
// API key scrubbed out of the message.
func (g *Gemini) wrap(kind Kind, err error) error {
	msg := err.Error()
	if key := g.cfg.Gemini.APIKey; key != "" {
		msg = strings.ReplaceAll(msg, key, "[redacted]")
	}
	return &Error{Kind: kind, Message: msg}
}
