package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/personality"
)

// Output is the JSON shape the model is asked to return.
type Output struct {
	Conversation []OutputLine `json:"conversation"`
	Conclusion   struct {
		Summary         string   `json:"summary"`
		Recommendations []string `json:"recommendations"`
		NextSteps       []string `json:"next_steps"`
	} `json:"conclusion"`
}

type OutputLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Parsed is a validated council reply.
type Parsed struct {
	Conversation []domain.Round
	Conclusion   domain.Conclusion
}

// Parse decodes a model reply. Code fences and prose around the JSON object
// are stripped and malformed JSON is repaired once; anything still unusable
// is an *llm.InvalidOutputError.
func Parse(model, text string) (*Parsed, error) {
	raw := extractObject(sanitizeJSONText(text))
	if raw == "" {
		return nil, &llm.InvalidOutputError{Model: model, Reason: "no json object in reply"}
	}
	var out Output
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		fixed, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, &llm.InvalidOutputError{Model: model, Reason: fmt.Sprintf("decode: %v", err)}
		}
		out = Output{}
		if err := json.Unmarshal([]byte(fixed), &out); err != nil {
			return nil, &llm.InvalidOutputError{Model: model, Reason: fmt.Sprintf("decode repaired: %v", err)}
		}
	}
	return validate(model, &out)
}

func validate(model string, out *Output) (*Parsed, error) {
	p := &Parsed{}
	for _, line := range out.Conversation {
		speaker := normalizeSpeaker(line.Speaker)
		text := strings.TrimSpace(line.Text)
		if text == "" {
			continue
		}
		if !personality.Role(speaker).Valid() {
			return nil, &llm.InvalidOutputError{Model: model, Reason: fmt.Sprintf("unknown speaker %q", line.Speaker)}
		}
		p.Conversation = append(p.Conversation, domain.Round{
			SpeakerRole:   speaker,
			Text:          text,
			SequenceIndex: len(p.Conversation),
		})
	}
	if len(p.Conversation) == 0 {
		return nil, &llm.InvalidOutputError{Model: model, Reason: "empty conversation"}
	}
	summary := strings.TrimSpace(out.Conclusion.Summary)
	if summary == "" {
		return nil, &llm.InvalidOutputError{Model: model, Reason: "missing conclusion summary"}
	}
	p.Conclusion = domain.Conclusion{
		Summary:         summary,
		Recommendations: compact(out.Conclusion.Recommendations),
		NextSteps:       compact(out.Conclusion.NextSteps),
	}
	return p, nil
}

// normalizeSpeaker accepts ids as well as display names ("Ideal Self").
func normalizeSpeaker(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, r := range personality.Roles {
		info, _ := r.Info()
		if s == string(r) || s == strings.ToLower(info.DisplayName) {
			return string(r)
		}
	}
	return strings.TrimSuffix(s, " self")
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sanitizeJSONText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Strip leading ```lang and trailing ```
	firstNL := strings.IndexByte(s, '\n')
	if firstNL == -1 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	s = s[firstNL+1:]
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// extractObject trims prose before the first '{'. A missing closing brace is
// left for the repair pass.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	s = s[start:]
	if end := strings.LastIndexByte(s, '}'); end != -1 {
		tail := strings.TrimSpace(s[end+1:])
		if tail == "" || !strings.ContainsAny(tail, "{}[]\"") {
			return s[:end+1]
		}
	}
	return s
}
