package domain

import "time"

type MeetingStatus string

const (
	// MeetingPending marks a claimed slot whose generation is in flight.
	MeetingPending MeetingStatus = "pending"
	MeetingReady   MeetingStatus = "ready"

	// MeetingFailed marks a pair whose last generation failed. LeaseExpiresAt
	// then holds the time the pair may be claimed again.
	MeetingFailed MeetingStatus = "failed"
)

// Round is one line of the council dialogue.
type Round struct {
	SpeakerRole   string `json:"speaker_role"`
	Text          string `json:"text"`
	SequenceIndex int    `json:"sequence_index"`
}

type Conclusion struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations"`
	NextSteps       []string `json:"next_steps"`
}

// MeetingRecord is a generated dialogue keyed by (PersonalityKey, ConcernCategory).
// UsageCount only ever grows.
type MeetingRecord struct {
	ID               string        `json:"id"`
	PersonalityKey   string        `json:"personality_key"`
	ConcernCategory  string        `json:"concern_category"`
	Status           MeetingStatus `json:"status"`
	Conversation     []Round       `json:"conversation"`
	Conclusion       Conclusion    `json:"conclusion"`
	SimilarUserCount int           `json:"similar_user_count"`
	UsageCount       int64         `json:"usage_count"`
	ModelUsed        string        `json:"model_used,omitempty"`
	LeaseToken       string        `json:"lease_token,omitempty"`
	LeaseExpiresAt   *time.Time    `json:"lease_expires_at,omitempty"`
	Version          int64         `json:"version"`
	LastUsedAt       time.Time     `json:"last_used_at"`
	CreatedAt        time.Time     `json:"created_at"`
}

func (m *MeetingRecord) Ready() bool {
	return m != nil && m.Status == MeetingReady
}

// LeaseExpired reports whether a pending record's generator has gone quiet.
func (m *MeetingRecord) LeaseExpired(now time.Time) bool {
	if m == nil || m.Status != MeetingPending {
		return false
	}
	return m.LeaseExpiresAt == nil || !now.Before(*m.LeaseExpiresAt)
}

func (m *MeetingRecord) Failed() bool {
	return m != nil && m.Status == MeetingFailed
}

// RetryAllowed reports whether a failed record's backoff has passed.
func (m *MeetingRecord) RetryAllowed(now time.Time) bool {
	if !m.Failed() {
		return false
	}
	return m.LeaseExpiresAt == nil || !now.Before(*m.LeaseExpiresAt)
}

// MeetingResult is what a generator hands back to be persisted.
type MeetingResult struct {
	Conversation     []Round
	Conclusion       Conclusion
	ModelUsed        string
	SimilarUserCount int
}
