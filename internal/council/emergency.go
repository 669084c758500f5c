package council

import (
	"github.com/yungbote/persona-council/internal/domain"
	"github.com/yungbote/persona-council/internal/personality"
	"github.com/yungbote/persona-council/internal/routing"
)

// EmergencyResponse is the canned reply served when no model could answer.
type EmergencyResponse struct {
	Line            string   `mapstructure:"line" yaml:"line" json:"line"`
	Summary         string   `mapstructure:"summary" yaml:"summary" json:"summary"`
	Recommendations []string `mapstructure:"recommendations" yaml:"recommendations" json:"recommendations"`
	NextSteps       []string `mapstructure:"next_steps" yaml:"next_steps" json:"next_steps"`
}

func DefaultEmergencyResponses() map[routing.TaskType]EmergencyResponse {
	return map[routing.TaskType]EmergencyResponse{
		routing.TaskCouncilDialogue: {
			Line:    "The council is gathering its thoughts. Give us a moment and ask again soon.",
			Summary: "Your inner voices could not meet right now. Your concern matters and is worth revisiting shortly.",
			Recommendations: []string{
				"Write down what feels most pressing about this concern",
				"Take a short break before deciding anything",
			},
			NextSteps: []string{"Try the council again in a few minutes"},
		},
	}
}

func (r EmergencyResponse) rounds() []domain.Round {
	if r.Line == "" {
		return nil
	}
	return []domain.Round{{SpeakerRole: string(personality.RoleElder), Text: r.Line, SequenceIndex: 0}}
}

func (r EmergencyResponse) conclusion() domain.Conclusion {
	return domain.Conclusion{
		Summary:         r.Summary,
		Recommendations: append([]string(nil), r.Recommendations...),
		NextSteps:       append([]string(nil), r.NextSteps...),
	}
}
