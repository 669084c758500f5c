package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

type UsageRow struct {
	UserID          string     `gorm:"column:user_id;primaryKey;size:128"`
	Day             string     `gorm:"column:day;size:10;not null"`
	ChatCountToday  int64      `gorm:"column:chat_count_today;not null;default:0"`
	TotalChats      int64      `gorm:"column:total_chats;not null;default:0"`
	AdEarnedCredits int64      `gorm:"column:ad_earned_credits;not null;default:0"`
	TotalTokens     int64      `gorm:"column:total_tokens;not null;default:0"`
	TotalCostMicros int64      `gorm:"column:total_cost_micros;not null;default:0"`
	Tier            string     `gorm:"column:tier;size:16;not null;default:free"`
	TierExpiresAt   *time.Time `gorm:"column:tier_expires_at"`
	Version         int64      `gorm:"column:version;not null;default:0"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null"`
}

func (UsageRow) TableName() string { return "usage_records" }

type MeetingRow struct {
	ID               string         `gorm:"column:id;primaryKey;size:64"`
	PersonalityKey   string         `gorm:"column:personality_key;size:32;not null;uniqueIndex:idx_meeting_pair,priority:1"`
	ConcernCategory  string         `gorm:"column:concern_category;size:64;not null;uniqueIndex:idx_meeting_pair,priority:2;index:idx_meeting_category_status,priority:1"`
	Status           string         `gorm:"column:status;size:16;not null;index:idx_meeting_category_status,priority:2"`
	Conversation     datatypes.JSON `gorm:"column:conversation"`
	Conclusion       datatypes.JSON `gorm:"column:conclusion"`
	SimilarUserCount int            `gorm:"column:similar_user_count;not null;default:0"`
	UsageCount       int64          `gorm:"column:usage_count;not null;default:0"`
	ModelUsed        string         `gorm:"column:model_used;size:128"`
	LeaseToken       string         `gorm:"column:lease_token;size:64"`
	LeaseExpiresAt   *time.Time     `gorm:"column:lease_expires_at"`
	Version          int64          `gorm:"column:version;not null;default:0"`
	LastUsedAt       time.Time      `gorm:"column:last_used_at;not null"`
	CreatedAt        time.Time      `gorm:"column:created_at;not null;index"`
}

func (MeetingRow) TableName() string { return "meeting_records" }

type ProfileRow struct {
	UserID         string    `gorm:"column:user_id;primaryKey;size:128"`
	PersonalityKey string    `gorm:"column:personality_key;size:32;not null"`
	UpdatedAt      time.Time `gorm:"column:updated_at;not null"`
}

func (ProfileRow) TableName() string { return "user_profiles" }

// Models lists every table AutoMigrate manages.
func Models() []any {
	return []any{&UsageRow{}, &MeetingRow{}, &ProfileRow{}}
}
