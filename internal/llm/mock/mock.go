// Package mock is an offline llm.Provider that returns a well-formed council
// reply derived deterministically from the prompt.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/personality"
	"github.com/yungbote/persona-council/internal/prompt"
)

type Engine struct {
	RoundsPerRole int
}

var _ llm.Provider = (*Engine)(nil)

func New() *Engine {
	return &Engine{RoundsPerRole: prompt.DefaultRoundsPerRole}
}

var openers = map[personality.Role][]string{
	personality.RoleSelf:       {"Honestly, %s has been on my mind all week.", "I keep circling back to %s and I am not sure what I want."},
	personality.RoleOpposite:   {"I would look at %s from the other side entirely.", "What if %s is not the problem you think it is?"},
	personality.RoleIdeal:      {"Let's take %s one calm step at a time.", "I see %s as a chance to grow into who we want to be."},
	personality.RoleUnfiltered: {"Stop overthinking %s and admit what you already know.", "Blunt truth: %s won't fix itself."},
	personality.RoleChildhood:  {"Why does %s feel so big? Can we make it fun?", "What would happen if we just tried something new with %s?"},
	personality.RoleElder:      {"Years from now, %s will look smaller than it does today.", "I have seen worse than %s. Be patient with yourself."},
}

func (e *Engine) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var user string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(req.Messages[i].Role, "user") {
			user = req.Messages[i].Content
			break
		}
	}
	topic := topicFrom(user)
	h := sha256.Sum256([]byte(req.Model + "\n" + user))
	seed := binary.LittleEndian.Uint64(h[:8])

	rounds := e.RoundsPerRole
	if rounds <= 0 {
		rounds = 1
	}
	var out prompt.Output
	for r := 0; r < rounds; r++ {
		for i, role := range personality.Roles {
			lines := openers[role]
			pick := lines[(seed+uint64(r*len(personality.Roles)+i))%uint64(len(lines))]
			out.Conversation = append(out.Conversation, prompt.OutputLine{
				Speaker: string(role),
				Text:    fmt.Sprintf(pick, topic),
			})
		}
	}
	out.Conclusion.Summary = fmt.Sprintf("The council agrees %s deserves a deliberate, gentle plan rather than a rushed decision.", topic)
	out.Conclusion.Recommendations = []string{"Write down what you actually want from " + topic, "Talk it through with someone you trust"}
	out.Conclusion.NextSteps = []string{"Pick one small action for this week", "Check in with the council again in seven days"}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	text := string(b)
	return &llm.Completion{
		Text: text,
		Usage: llm.Usage{
			InputTokens:  llm.CountMessages(llm.EstimateTokens, req.Messages),
			OutputTokens: llm.EstimateTokens(text),
		},
	}, nil
}

// topicFrom pulls the concern text out of the user message.
func topicFrom(user string) string {
	const marker = "CONCERN:"
	idx := strings.LastIndex(user, marker)
	topic := user
	if idx != -1 {
		topic = user[idx+len(marker):]
	}
	topic = strings.Join(strings.Fields(topic), " ")
	topic = strings.TrimRight(topic, ".?!")
	if topic == "" {
		return "this"
	}
	if r := []rune(topic); len(r) > 80 {
		topic = string(r[:80])
	}
	return "\"" + topic + "\""
}
