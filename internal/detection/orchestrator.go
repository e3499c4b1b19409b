package detection

import (
	"context"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/watchdogbot/watchdog/internal/adapters"
	"github.com/watchdogbot/watchdog/internal/config"
	"github.com/watchdogbot/watchdog/internal/db"
	"github.com/watchdogbot/watchdog/internal/observability"
)

const (
	scoreRecentHistory    = 0.4
	scoreHeuristic        = 0.5
	scoreBanlisted        = 0.4
	scoreNewAccount       = 0.2
	scoreNewMember        = 0.1
	scoreClassifierHit    = 0.9
	scoreClassifierRelief = 0.3
	scoreJoinNewAccount   = 0.4
	scoreJoinClassifier   = 0.7
	scoreUserReport       = 0.6

	borderlineLow  = 0.3
	borderlineHigh = 0.7

	suspicionBoundary = 0.5
)

// MessageRef points at the triggering message, when there is one.
type MessageRef struct {
	MessageID string
	ChannelID string
}

// Result is one completed suspicion assessment. Score is the raw clamped
// suspicion score; Confidence measures distance from the suspicion boundary,
// so a borderline hit has a high Score and a low Confidence at the same time.
type Result struct {
	ServerID        string
	UserID          string
	Suspicious      bool
	Score           float64
	Confidence      float64
	ConfidenceLevel db.ConfidenceLevel
	Reasons         []string
	UsedClassifier  bool
	// Event is the persisted DetectionEvent. It is nil for clean results
	// and when persistence failed (persistence is best-effort and never
	// blocks the caller).
	Event *db.DetectionEvent
}

type banLister interface {
	IsListed(userID string) bool
}

type detectionStore interface {
	CreateDetectionEvent(ctx context.Context, event *db.DetectionEvent) (*db.DetectionEvent, error)
	GetRecentDetectionEvents(ctx context.Context, serverID, userID string, limit int) ([]*db.DetectionEvent, error)
	GetReputation(ctx context.Context, scope, serverID, userID string) (*db.ReputationScore, error)
	SetReputation(ctx context.Context, score *db.ReputationScore) error
	GetUserServerScores(ctx context.Context, userID string) ([]float64, error)
}

// Orchestrator blends the cheap heuristics with the expensive profile
// classifier into one suspicion result per trigger, persists the resulting
// DetectionEvent and nudges reputation scores.
type Orchestrator struct {
	store      detectionStore
	rules      *RulesProvider
	classifier adapters.ProfileRiskClassifier
	banlist    banLister
	activity   *activityTracker
	cfg        config.Detection
	logger     *log.Entry
}

func NewOrchestrator(store detectionStore, rules *RulesProvider, classifier adapters.ProfileRiskClassifier, banlist banLister, cfg config.Detection) *Orchestrator {
	return &Orchestrator{
		store:      store,
		rules:      rules,
		classifier: classifier,
		banlist:    banlist,
		activity:   newActivityTracker(),
		cfg:        cfg,
		logger:     log.WithField("object", "Orchestrator"),
	}
}

// DetectMessage scores one message trigger. The classifier is consulted only
// for new accounts, fresh members, or when the cheap score lands in the
// borderline range.
func (o *Orchestrator) DetectMessage(ctx context.Context, serverID, userID, content string, msgRef *MessageRef, profile *adapters.Profile) Result {
	ctx, span := otel.Tracer("detection").Start(ctx, "detect-message")
	defer span.End()
	done := observability.StartDetection("message")
	defer done()

	entry := o.logger.WithField("method", "DetectMessage").
		WithField("server_id", serverID).
		WithField("user_id", userID)

	now := time.Now()
	score := 0.0
	var reasons []string

	if o.hasRecentHighConfidenceEvent(ctx, serverID, userID) {
		score += scoreRecentHistory
		reasons = append(reasons, "recent suspicious activity")
	}

	timestamps := o.activity.timestamps(serverID, userID)
	o.activity.record(serverID, userID, content, now)

	rules := o.rules.ServerRules(ctx, serverID)
	heuristic := EvaluateHeuristics(content, append(timestamps, now), now, rules)
	if heuristic.Suspicious {
		score += scoreHeuristic
		reasons = append(reasons, heuristic.Reasons...)
	}

	banlisted := o.banlist != nil && o.banlist.IsListed(userID)
	if banlisted {
		score += scoreBanlisted
		reasons = append(reasons, "listed on external banlist")
	}

	newAccount := false
	newMember := false
	if profile != nil {
		if age := profile.AccountAgeDays(now); age >= 0 && age <= o.cfg.NewAccountDays {
			newAccount = true
			score += scoreNewAccount
			reasons = append(reasons, "new account")
		}
		if !profile.JoinedServerAt.IsZero() && now.Sub(profile.JoinedServerAt) <= time.Duration(o.cfg.NewMemberDays)*24*time.Hour {
			newMember = true
			score += scoreNewMember
			reasons = append(reasons, "recently joined server")
		}
	}

	usedClassifier := false
	borderline := score >= borderlineLow && score <= borderlineHigh
	if profile != nil && (newAccount || newMember || borderline) {
		sample := *profile
		sample.MessageHistory = append(o.activity.messages(serverID, userID), content)

		classification, err := o.classifier.Classify(ctx, sample)
		switch {
		case err != nil:
			// Fail open: degrade to the heuristic-only result.
			entry.WithError(err).Warn("classifier unavailable, using heuristic-only result")
			observability.RecordClassifierCall("error")
			reasons = append(reasons, "classifier unavailable")
		case classification.Result == adapters.VerdictSuspicious:
			usedClassifier = true
			observability.RecordClassifierCall("suspicious")
			score = scoreClassifierHit
			reasons = append(reasons, classification.Reasons...)
		default:
			usedClassifier = true
			observability.RecordClassifierCall("ok")
			score = math.Max(0, score-scoreClassifierRelief)
			reasons = append(reasons, "classifier indicates legitimate")
		}
	}

	detectionType := messageDetectionType(usedClassifier, heuristic, banlisted, newAccount)
	result := o.finalize(serverID, userID, score, reasons, usedClassifier)
	o.persist(ctx, &result, detectionType, msgRef)
	return result
}

// DetectNewJoin scores a join trigger. Joins always escalate to the
// classifier.
func (o *Orchestrator) DetectNewJoin(ctx context.Context, serverID, userID string, profile adapters.Profile) Result {
	ctx, span := otel.Tracer("detection").Start(ctx, "detect-new-join")
	defer span.End()
	done := observability.StartDetection("join")
	defer done()

	entry := o.logger.WithField("method", "DetectNewJoin").
		WithField("server_id", serverID).
		WithField("user_id", userID)

	now := time.Now()
	score := 0.0
	var reasons []string

	if age := profile.AccountAgeDays(now); age >= 0 && age <= o.cfg.NewAccountDays {
		score += scoreJoinNewAccount
		reasons = append(reasons, "new account")
	}

	usedClassifier := false
	classification, err := o.classifier.Classify(ctx, profile)
	switch {
	case err != nil:
		entry.WithError(err).Warn("classifier unavailable, using heuristic-only result")
		observability.RecordClassifierCall("error")
		reasons = append(reasons, "classifier unavailable")
	case classification.Result == adapters.VerdictSuspicious:
		usedClassifier = true
		observability.RecordClassifierCall("suspicious")
		score += scoreJoinClassifier
		reasons = append(reasons, classification.Reasons...)
	default:
		usedClassifier = true
		observability.RecordClassifierCall("ok")
	}

	result := o.finalize(serverID, userID, score, reasons, usedClassifier)
	o.persist(ctx, &result, db.DetectionTypeNewAccount, nil)
	return result
}

// DetectUserReport records a member-filed report as a fixed-score signal.
func (o *Orchestrator) DetectUserReport(ctx context.Context, serverID, userID, reporterID, reason string) Result {
	done := observability.StartDetection("report")
	defer done()

	reasons := []string{"reported by community member"}
	if reason != "" {
		reasons = append(reasons, reason)
	}
	result := o.finalize(serverID, userID, scoreUserReport, reasons, false)
	result.Event = o.persistEvent(ctx, result, db.DetectionTypeUserReport, nil, db.Dict{"reporter_id": reporterID})
	o.nudgeReputation(ctx, result)
	observability.RecordDetection(string(db.DetectionTypeUserReport), verdictLabel(result.Suspicious))
	return result
}

// DetectManualFlag records an explicit moderator flag at full confidence.
func (o *Orchestrator) DetectManualFlag(ctx context.Context, serverID, userID, moderatorID, reason string) Result {
	done := observability.StartDetection("manual")
	defer done()

	reasons := []string{"manually flagged by moderator"}
	if reason != "" {
		reasons = append(reasons, reason)
	}
	result := o.finalize(serverID, userID, 1.0, reasons, false)
	result.Event = o.persistEvent(ctx, result, db.DetectionTypePatternMatch, nil, db.Dict{"moderator_id": moderatorID})
	o.nudgeReputation(ctx, result)
	observability.RecordDetection(string(db.DetectionTypePatternMatch), verdictLabel(result.Suspicious))
	return result
}

func (o *Orchestrator) hasRecentHighConfidenceEvent(ctx context.Context, serverID, userID string) bool {
	events, err := o.store.GetRecentDetectionEvents(ctx, serverID, userID, o.cfg.RecentHistoryLimit)
	if err != nil {
		o.logger.WithError(err).Debug("cant load recent detection events")
		return false
	}
	for _, event := range events {
		if event.ConfidenceLevel == db.ConfidenceHigh {
			return true
		}
	}
	return false
}

func (o *Orchestrator) finalize(serverID, userID string, score float64, reasons []string, usedClassifier bool) Result {
	score = math.Min(1.0, math.Max(0, score))
	confidence := math.Abs(score-suspicionBoundary) * 2
	return Result{
		ServerID:        serverID,
		UserID:          userID,
		Suspicious:      score >= suspicionBoundary,
		Score:           score,
		Confidence:      confidence,
		ConfidenceLevel: db.ConfidenceLevelFor(confidence),
		Reasons:         reasons,
		UsedClassifier:  usedClassifier,
	}
}

// persist stores the DetectionEvent and nudges reputation. Both are
// best-effort: failures are logged and never surface to the caller. Only
// suspicious results leave an event row; clean assessments would otherwise
// pollute the recent-history signal.
func (o *Orchestrator) persist(ctx context.Context, result *Result, detectionType db.DetectionType, msgRef *MessageRef) {
	if result.Suspicious {
		result.Event = o.persistEvent(ctx, *result, detectionType, msgRef, nil)
	}
	o.nudgeReputation(ctx, *result)
	observability.RecordDetection(string(detectionType), verdictLabel(result.Suspicious))
}

func (o *Orchestrator) persistEvent(ctx context.Context, result Result, detectionType db.DetectionType, msgRef *MessageRef, metadata db.Dict) *db.DetectionEvent {
	event := &db.DetectionEvent{
		ServerID:        result.ServerID,
		UserID:          result.UserID,
		Type:            detectionType,
		Confidence:      result.Confidence,
		ConfidenceLevel: result.ConfidenceLevel,
		Reasons:         db.StringList(result.Reasons),
		Metadata:        metadata,
	}
	if msgRef != nil {
		if msgRef.MessageID != "" {
			event.MessageID = &msgRef.MessageID
		}
		if msgRef.ChannelID != "" {
			event.ChannelID = &msgRef.ChannelID
		}
	}
	created, err := o.store.CreateDetectionEvent(ctx, event)
	if err != nil {
		o.logger.WithError(err).Error("failed to persist detection event")
		return nil
	}
	return created
}

func (o *Orchestrator) nudgeReputation(ctx context.Context, result Result) {
	delta := 5.0
	if result.Suspicious {
		delta = -20.0 * result.Confidence
	}

	serverScore, err := o.store.GetReputation(ctx, db.ReputationScopeServer, result.ServerID, result.UserID)
	if err != nil {
		o.logger.WithError(err).Error("failed to load reputation score")
		return
	}
	if serverScore == nil {
		serverScore = &db.ReputationScore{
			Scope:    db.ReputationScopeServer,
			ServerID: result.ServerID,
			UserID:   result.UserID,
			Score:    100,
		}
	}
	serverScore.Score = math.Min(100, math.Max(0, serverScore.Score+delta))
	if err := o.store.SetReputation(ctx, serverScore); err != nil {
		o.logger.WithError(err).Error("failed to store server reputation score")
		return
	}

	scores, err := o.store.GetUserServerScores(ctx, result.UserID)
	if err != nil || len(scores) == 0 {
		if err != nil {
			o.logger.WithError(err).Error("failed to load per-server reputation scores")
		}
		return
	}
	sum := 0.0
	for _, score := range scores {
		sum += score
	}
	global := &db.ReputationScore{
		Scope:  db.ReputationScopeGlobal,
		UserID: result.UserID,
		Score:  sum / float64(len(scores)),
	}
	if err := o.store.SetReputation(ctx, global); err != nil {
		o.logger.WithError(err).Error("failed to store global reputation score")
	}
}

func messageDetectionType(usedClassifier bool, heuristic HeuristicResult, banlisted, newAccount bool) db.DetectionType {
	switch {
	case usedClassifier:
		return db.DetectionTypeGPTAnalysis
	case heuristic.FrequencyMatch:
		return db.DetectionTypeMessageFrequency
	case heuristic.KeywordMatch:
		return db.DetectionTypeSuspiciousContent
	case banlisted:
		return db.DetectionTypePatternMatch
	case newAccount:
		return db.DetectionTypeNewAccount
	default:
		return db.DetectionTypeSuspiciousContent
	}
}

func verdictLabel(suspicious bool) string {
	if suspicious {
		return "suspicious"
	}
	return "ok"
}
