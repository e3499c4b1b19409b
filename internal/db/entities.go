package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type DetectionType string

const (
	DetectionTypeMessageFrequency  DetectionType = "message_frequency"
	DetectionTypeSuspiciousContent DetectionType = "suspicious_content"
	DetectionTypeGPTAnalysis       DetectionType = "gpt_analysis"
	DetectionTypeNewAccount        DetectionType = "new_account"
	DetectionTypePatternMatch      DetectionType = "pattern_match"
	DetectionTypeUserReport        DetectionType = "user_report"
)

type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// ConfidenceLevelFor buckets a raw confidence into low/medium/high.
func ConfidenceLevelFor(confidence float64) ConfidenceLevel {
	switch {
	case confidence < 0.4:
		return ConfidenceLow
	case confidence < 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationBanned   VerificationStatus = "banned"
)

type AdminActionType string

const (
	AdminActionVerify       AdminActionType = "verify"
	AdminActionBan          AdminActionType = "ban"
	AdminActionReopen       AdminActionType = "reopen"
	AdminActionCreateThread AdminActionType = "create_thread"
)

type (
	// StringList stores an ordered list of strings as a JSON column.
	StringList []string

	// Dict stores free-form string metadata as a JSON column.
	Dict map[string]string
)

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(v interface{}) error {
	if v == nil {
		return nil
	}
	switch data := v.(type) {
	case string:
		return json.Unmarshal([]byte(data), l)
	case []byte:
		return json.Unmarshal(data, l)
	default:
		return fmt.Errorf("cannot scan type %T into StringList", v)
	}
}

func (d Dict) Value() (driver.Value, error) {
	if d == nil {
		d = Dict{}
	}
	return json.Marshal(d)
}

func (d *Dict) Scan(v interface{}) error {
	if v == nil {
		return nil
	}
	switch data := v.(type) {
	case string:
		return json.Unmarshal([]byte(data), d)
	case []byte:
		return json.Unmarshal(data, d)
	default:
		return fmt.Errorf("cannot scan type %T into Dict", v)
	}
}

type (
	Server struct {
		ID        string    `db:"id"`
		Title     string    `db:"title"`
		CreatedAt time.Time `db:"created_at"`
	}

	User struct {
		ID        string    `db:"id"`
		Username  string    `db:"username"`
		CreatedAt time.Time `db:"created_at"`
	}

	// ServerConfig holds per-server moderation rules.
	ServerConfig struct {
		ServerID               string     `db:"server_id"`
		MessageThreshold       int        `db:"message_threshold"`
		TimeframeSeconds       int        `db:"timeframe_seconds"`
		SuspiciousKeywords     StringList `db:"suspicious_keywords"`
		MinConfidenceThreshold float64    `db:"min_confidence_threshold"`
		AutoRestrict           bool       `db:"auto_restrict"`
	}

	// DetectionEvent is one immutable suspicion assessment. The only allowed
	// post-insert mutation is the one-time admin resolution stamp.
	DetectionEvent struct {
		ID                  string          `db:"id"`
		ServerID            string          `db:"server_id"`
		UserID              string          `db:"user_id"`
		Type                DetectionType   `db:"detection_type"`
		Confidence          float64         `db:"confidence"`
		ConfidenceLevel     ConfidenceLevel `db:"confidence_level"`
		Reasons             StringList      `db:"reasons"`
		MessageID           *string         `db:"message_id"`
		ChannelID           *string         `db:"channel_id"`
		VerificationEventID *string         `db:"verification_event_id"`
		AdminResolution     *string         `db:"admin_resolution"`
		Metadata            Dict            `db:"metadata"`
		DetectedAt          time.Time       `db:"detected_at"`
	}

	// VerificationEvent is a moderation case for one (server,user) pair.
	VerificationEvent struct {
		ID                    string             `db:"id"`
		ServerID              string             `db:"server_id"`
		UserID                string             `db:"user_id"`
		Status                VerificationStatus `db:"status"`
		DetectionEventID      *string            `db:"detection_event_id"`
		ThreadID              *string            `db:"thread_id"`
		NotificationMessageID *string            `db:"notification_message_id"`
		Notes                 string             `db:"notes"`
		Metadata              Dict               `db:"metadata"`
		CreatedAt             time.Time          `db:"created_at"`
		UpdatedAt             time.Time          `db:"updated_at"`
		ResolvedAt            *time.Time         `db:"resolved_at"`
		ResolvedBy            *string            `db:"resolved_by"`
	}

	// AdminAction is one immutable audit row of a moderator decision.
	AdminAction struct {
		ID                  string             `db:"id"`
		ServerID            string             `db:"server_id"`
		UserID              string             `db:"user_id"`
		AdminID             string             `db:"admin_id"`
		VerificationEventID *string            `db:"verification_event_id"`
		DetectionEventID    *string            `db:"detection_event_id"`
		Type                AdminActionType    `db:"action_type"`
		ActionAt            time.Time          `db:"action_at"`
		PreviousStatus      VerificationStatus `db:"previous_status"`
		NewStatus           VerificationStatus `db:"new_status"`
		Notes               string             `db:"notes"`
		Metadata            Dict               `db:"metadata"`
	}

	ReputationScore struct {
		Scope     string    `db:"scope"`
		ServerID  string    `db:"server_id"`
		UserID    string    `db:"user_id"`
		Score     float64   `db:"score"`
		UpdatedAt time.Time `db:"updated_at"`
	}
)

const (
	ReputationScopeServer = "server"
	ReputationScopeGlobal = "global"
)
