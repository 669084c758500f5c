// Package prompt assembles the council prompt, parses the model's reply into
// dialogue rounds and a conclusion, and categorizes free-text concerns.
package prompt

import (
	"fmt"
	"strings"

	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/personality"
)

const DefaultRoundsPerRole = 2

type Input struct {
	Profile  personality.Profile
	Variants []personality.Variant
	Concern  string
	Category string
	// RoundsPerRole is how many times each persona should speak.
	RoundsPerRole int
}

// Build returns the system and user messages for one council generation. The
// output is a pure function of in.
func Build(in Input) []llm.Message {
	rounds := in.RoundsPerRole
	if rounds <= 0 {
		rounds = DefaultRoundsPerRole
	}
	variants := in.Variants
	if len(variants) == 0 {
		variants = personality.Derive(in.Profile)
	}

	var sys strings.Builder
	sys.WriteString("You are staging a council meeting between six inner voices of one person.\n")
	fmt.Fprintf(&sys, "The person identifies as %s. Every voice is that same person seen through a different temperament.\n\n", genderWord(in.Profile.Gender))
	sys.WriteString("VOICES:\n")
	for _, v := range variants {
		info, _ := v.ID.Info()
		fmt.Fprintf(&sys, "- id=%s name=%q side=%s traits=%s\n  voice: %s\n  temperament: %s\n",
			v.ID, v.DisplayName, v.Side, v.Traits, info.Voice, describeTraits(v.Traits))
	}
	sys.WriteString("\nRULES:\n")
	fmt.Fprintf(&sys, "- Write about %d lines in total; every voice speaks at least %d time(s).\n", rounds*len(variants), rounds)
	sys.WriteString("- Voices respond to each other, disagree where their temperaments differ, and stay in character.\n")
	sys.WriteString("- Close with a conclusion the whole council agrees on.\n")
	sys.WriteString("- Return ONLY a JSON object. Do not include markdown or commentary.\n\n")
	sys.WriteString("OUTPUT FORMAT:\n")
	sys.WriteString(`{"conversation":[{"speaker":"<voice id>","text":"<line>"}],"conclusion":{"summary":"<2-3 sentences>","recommendations":["<item>"],"next_steps":["<item>"]}}`)

	var user strings.Builder
	fmt.Fprintf(&user, "CONCERN CATEGORY: %s\n", strings.TrimSpace(in.Category))
	fmt.Fprintf(&user, "CONCERN:\n%s\n", strings.TrimSpace(in.Concern))

	return []llm.Message{
		{Role: "system", Content: strings.TrimSpace(sys.String())},
		{Role: "user", Content: strings.TrimSpace(user.String())},
	}
}

func genderWord(g personality.Gender) string {
	switch g {
	case personality.GenderFemale:
		return "a woman"
	case personality.GenderMale:
		return "a man"
	default:
		return "a person"
	}
}

func level(score int) string {
	switch {
	case score <= 2:
		return "low"
	case score >= 4:
		return "high"
	default:
		return "moderate"
	}
}

func describeTraits(v personality.TraitVector) string {
	parts := make([]string, 0, 5)
	for t := personality.Openness; t <= personality.Neuroticism; t++ {
		parts = append(parts, fmt.Sprintf("%s %s", level(v.Get(t)), t))
	}
	return strings.Join(parts, ", ")
}
