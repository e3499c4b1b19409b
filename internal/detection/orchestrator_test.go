package detection

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/watchdogbot/watchdog/internal/adapters"
	"github.com/watchdogbot/watchdog/internal/config"
	"github.com/watchdogbot/watchdog/internal/db"
)

type orchestratorTestStore struct {
	events     []*db.DetectionEvent
	reputation map[string]*db.ReputationScore
}

func newOrchestratorTestStore() *orchestratorTestStore {
	return &orchestratorTestStore{reputation: map[string]*db.ReputationScore{}}
}

func (s *orchestratorTestStore) CreateDetectionEvent(_ context.Context, event *db.DetectionEvent) (*db.DetectionEvent, error) {
	stored := *event
	stored.ID = fmt.Sprintf("evt-%d", len(s.events)+1)
	stored.DetectedAt = time.Now()
	s.events = append(s.events, &stored)
	return &stored, nil
}

func (s *orchestratorTestStore) GetRecentDetectionEvents(_ context.Context, serverID, userID string, limit int) ([]*db.DetectionEvent, error) {
	var out []*db.DetectionEvent
	for _, event := range s.events {
		if event.ServerID == serverID && event.UserID == userID {
			out = append(out, event)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *orchestratorTestStore) GetReputation(_ context.Context, scope, serverID, userID string) (*db.ReputationScore, error) {
	return s.reputation[scope+":"+serverID+":"+userID], nil
}

func (s *orchestratorTestStore) SetReputation(_ context.Context, score *db.ReputationScore) error {
	stored := *score
	s.reputation[score.Scope+":"+score.ServerID+":"+score.UserID] = &stored
	return nil
}

func (s *orchestratorTestStore) GetUserServerScores(_ context.Context, userID string) ([]float64, error) {
	var out []float64
	for _, score := range s.reputation {
		if score.Scope == db.ReputationScopeServer && score.UserID == userID {
			out = append(out, score.Score)
		}
	}
	return out, nil
}

type orchestratorTestClassifier struct {
	classification adapters.Classification
	err            error
	calls          int
	lastProfile    adapters.Profile
}

func (c *orchestratorTestClassifier) Classify(_ context.Context, profile adapters.Profile) (adapters.Classification, error) {
	c.calls++
	c.lastProfile = profile
	if c.err != nil {
		return adapters.Classification{}, c.err
	}
	return c.classification, nil
}

type orchestratorTestBanlist struct {
	listed map[string]bool
}

func (b *orchestratorTestBanlist) IsListed(userID string) bool {
	return b.listed[userID]
}

func testDetectionConfig() config.Detection {
	return config.Detection{
		MessageThreshold:   5,
		TimeframeSeconds:   10,
		MinConfidence:      0.5,
		AutoRestrict:       true,
		NewAccountDays:     7,
		NewMemberDays:      3,
		RecentHistoryLimit: 20,
	}
}

func newTestOrchestrator(store *orchestratorTestStore, classifier adapters.ProfileRiskClassifier, banlist banLister) *Orchestrator {
	cfg := testDetectionConfig()
	rules := NewRulesProvider(&rulesTestStore{}, cfg)
	return NewOrchestrator(store, rules, classifier, banlist, cfg)
}

func TestDetectMessageFlagsNewAccountPostingScamKeyword(t *testing.T) {
	t.Parallel()

	store := newOrchestratorTestStore()
	classifier := &orchestratorTestClassifier{
		classification: adapters.Classification{
			Result:  adapters.VerdictSuspicious,
			Reasons: []string{"account created yesterday", "posts giveaway links"},
		},
	}
	orchestrator := newTestOrchestrator(store, classifier, &orchestratorTestBanlist{})

	now := time.Now()
	profile := &adapters.Profile{
		UserID:           "user-1",
		Username:         "nitro_dealer",
		AccountCreatedAt: now.Add(-24 * time.Hour),
		JoinedServerAt:   now.Add(-2 * time.Hour),
	}
	result := orchestrator.DetectMessage(context.Background(), "srv-1", "user-1",
		"claim your free nitro giveaway here", &MessageRef{MessageID: "msg-1", ChannelID: "chan-1"}, profile)

	if !result.Suspicious {
		t.Fatalf("expected suspicious result, got %+v", result)
	}
	if !result.UsedClassifier {
		t.Fatal("expected the classifier verdict to be used")
	}
	if result.ConfidenceLevel != db.ConfidenceHigh {
		t.Fatalf("ConfidenceLevel = %s, want high (confidence %v)", result.ConfidenceLevel, result.Confidence)
	}
	if result.Event == nil {
		t.Fatal("expected a persisted detection event")
	}
	if result.Event.Type != db.DetectionTypeGPTAnalysis {
		t.Fatalf("event type = %s, want %s", result.Event.Type, db.DetectionTypeGPTAnalysis)
	}
	if result.Event.MessageID == nil || *result.Event.MessageID != "msg-1" {
		t.Fatalf("expected message reference on event, got %+v", result.Event)
	}
	if len(classifier.lastProfile.MessageHistory) == 0 {
		t.Fatal("expected the classifier sample to include the triggering message")
	}

	score, err := store.GetReputation(context.Background(), db.ReputationScopeServer, "srv-1", "user-1")
	if err != nil || score == nil {
		t.Fatalf("expected server reputation score, got %v (%v)", score, err)
	}
	if score.Score >= 100 {
		t.Fatalf("expected reputation penalty, got %v", score.Score)
	}
}

func TestDetectMessageFailsOpenWhenClassifierUnavailable(t *testing.T) {
	t.Parallel()

	store := newOrchestratorTestStore()
	classifier := &orchestratorTestClassifier{err: fmt.Errorf("upstream timeout")}
	orchestrator := newTestOrchestrator(store, classifier, &orchestratorTestBanlist{})

	now := time.Now()
	profile := &adapters.Profile{
		UserID:           "user-1",
		AccountCreatedAt: now.Add(-24 * time.Hour),
	}
	result := orchestrator.DetectMessage(context.Background(), "srv-1", "user-1",
		"free nitro for everyone", nil, profile)

	if !result.Suspicious {
		t.Fatalf("expected the heuristic-only result to stay suspicious, got %+v", result)
	}
	if result.UsedClassifier {
		t.Fatal("classifier failed, result must not claim classifier use")
	}
	found := false
	for _, reason := range result.Reasons {
		if strings.Contains(reason, "classifier unavailable") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected degradation reason, got %v", result.Reasons)
	}
	if result.Event == nil || result.Event.Type != db.DetectionTypeSuspiciousContent {
		t.Fatalf("expected suspicious_content event, got %+v", result.Event)
	}
}

func TestDetectMessageClassifierReliefClearsBorderline(t *testing.T) {
	t.Parallel()

	store := newOrchestratorTestStore()
	classifier := &orchestratorTestClassifier{
		classification: adapters.Classification{Result: adapters.VerdictOK},
	}
	orchestrator := newTestOrchestrator(store, classifier, &orchestratorTestBanlist{})

	now := time.Now()
	profile := &adapters.Profile{
		UserID:         "user-1",
		JoinedServerAt: now.Add(-time.Hour),
	}
	result := orchestrator.DetectMessage(context.Background(), "srv-1", "user-1",
		"hi folks, happy to be here", nil, profile)

	if result.Suspicious {
		t.Fatalf("expected clean result after classifier relief, got %+v", result)
	}
	if !result.UsedClassifier {
		t.Fatal("expected classifier consultation for a fresh member")
	}
	if result.Event != nil {
		t.Fatalf("clean results must not leave detection events, got %+v", result.Event)
	}
}

func TestDetectMessageSkipsClassifierForEstablishedAccounts(t *testing.T) {
	t.Parallel()

	store := newOrchestratorTestStore()
	classifier := &orchestratorTestClassifier{}
	orchestrator := newTestOrchestrator(store, classifier, &orchestratorTestBanlist{})

	now := time.Now()
	profile := &adapters.Profile{
		UserID:           "user-1",
		AccountCreatedAt: now.Add(-400 * 24 * time.Hour),
		JoinedServerAt:   now.Add(-100 * 24 * time.Hour),
	}
	result := orchestrator.DetectMessage(context.Background(), "srv-1", "user-1",
		"the weather is nice today", nil, profile)

	if result.Suspicious {
		t.Fatalf("expected clean result, got %+v", result)
	}
	if classifier.calls != 0 {
		t.Fatalf("classifier called %d times for an established account with a clean score", classifier.calls)
	}
}

func TestDetectMessageFrequencyBurst(t *testing.T) {
	t.Parallel()

	store := newOrchestratorTestStore()
	orchestrator := newTestOrchestrator(store, &orchestratorTestClassifier{}, &orchestratorTestBanlist{})

	ctx := context.Background()
	var result Result
	for i := 0; i < 7; i++ {
		result = orchestrator.DetectMessage(ctx, "srv-1", "user-1", fmt.Sprintf("message %d", i), nil, nil)
	}

	if !result.Suspicious {
		t.Fatalf("expected burst to trip the frequency heuristic, got %+v", result)
	}
	if result.Event == nil || result.Event.Type != db.DetectionTypeMessageFrequency {
		t.Fatalf("expected message_frequency event, got %+v", result.Event)
	}
}

func TestDetectMessageCombinesHistoryAndBanlistSignals(t *testing.T) {
	t.Parallel()

	store := newOrchestratorTestStore()
	store.events = append(store.events, &db.DetectionEvent{
		ID:              "evt-old",
		ServerID:        "srv-1",
		UserID:          "user-1",
		Type:            db.DetectionTypeSuspiciousContent,
		Confidence:      0.9,
		ConfidenceLevel: db.ConfidenceHigh,
	})
	banlist := &orchestratorTestBanlist{listed: map[string]bool{"user-1": true}}
	orchestrator := newTestOrchestrator(store, &orchestratorTestClassifier{}, banlist)

	result := orchestrator.DetectMessage(context.Background(), "srv-1", "user-1",
		"just a normal message", nil, nil)

	if !result.Suspicious {
		t.Fatalf("history plus banlist should flag, got %+v", result)
	}
	if result.Event == nil || result.Event.Type != db.DetectionTypePatternMatch {
		t.Fatalf("expected pattern_match event, got %+v", result.Event)
	}
}

func TestDetectNewJoinEscalatesFreshAccount(t *testing.T) {
	t.Parallel()

	store := newOrchestratorTestStore()
	classifier := &orchestratorTestClassifier{
		classification: adapters.Classification{
			Result:  adapters.VerdictSuspicious,
			Reasons: []string{"empty profile"},
		},
	}
	orchestrator := newTestOrchestrator(store, classifier, &orchestratorTestBanlist{})

	now := time.Now()
	result := orchestrator.DetectNewJoin(context.Background(), "srv-1", "user-1", adapters.Profile{
		UserID:           "user-1",
		AccountCreatedAt: now.Add(-12 * time.Hour),
		JoinedServerAt:   now,
	})

	if classifier.calls != 1 {
		t.Fatalf("joins must always consult the classifier, got %d calls", classifier.calls)
	}
	if !result.Suspicious || result.ConfidenceLevel != db.ConfidenceHigh {
		t.Fatalf("expected high-confidence suspicious join, got %+v", result)
	}
	if result.Event == nil || result.Event.Type != db.DetectionTypeNewAccount {
		t.Fatalf("expected new_account event, got %+v", result.Event)
	}
}

func TestDetectUserReport(t *testing.T) {
	t.Parallel()

	store := newOrchestratorTestStore()
	orchestrator := newTestOrchestrator(store, &orchestratorTestClassifier{}, &orchestratorTestBanlist{})

	result := orchestrator.DetectUserReport(context.Background(), "srv-1", "user-1", "reporter-1", "sent me a phishing dm")

	if !result.Suspicious {
		t.Fatalf("reports always flag, got %+v", result)
	}
	if result.Score != 0.6 {
		t.Fatalf("report score = %v, want the fixed 0.6", result.Score)
	}
	if result.Confidence >= 0.5 {
		t.Fatalf("report confidence = %v, expected a near-boundary value", result.Confidence)
	}
	if result.Event == nil {
		t.Fatal("expected persisted report event")
	}
	if result.Event.Type != db.DetectionTypeUserReport {
		t.Fatalf("event type = %s, want %s", result.Event.Type, db.DetectionTypeUserReport)
	}
	if result.Event.Metadata["reporter_id"] != "reporter-1" {
		t.Fatalf("expected reporter metadata, got %v", result.Event.Metadata)
	}
}

func TestDetectManualFlagHasFullConfidence(t *testing.T) {
	t.Parallel()

	store := newOrchestratorTestStore()
	orchestrator := newTestOrchestrator(store, &orchestratorTestClassifier{}, &orchestratorTestBanlist{})

	result := orchestrator.DetectManualFlag(context.Background(), "srv-1", "user-1", "mod-1", "known scammer")

	if !result.Suspicious || result.Confidence != 1.0 || result.ConfidenceLevel != db.ConfidenceHigh {
		t.Fatalf("manual flags carry full confidence, got %+v", result)
	}
	if result.Event == nil || result.Event.Metadata["moderator_id"] != "mod-1" {
		t.Fatalf("expected moderator metadata, got %+v", result.Event)
	}
}

func TestReputationGlobalScoreAveragesServers(t *testing.T) {
	t.Parallel()

	store := newOrchestratorTestStore()
	orchestrator := newTestOrchestrator(store, &orchestratorTestClassifier{}, &orchestratorTestBanlist{})

	ctx := context.Background()
	orchestrator.DetectManualFlag(ctx, "srv-1", "user-1", "mod-1", "")
	orchestrator.DetectMessage(ctx, "srv-2", "user-1", "a perfectly fine message", nil, nil)

	srv1, _ := store.GetReputation(ctx, db.ReputationScopeServer, "srv-1", "user-1")
	srv2, _ := store.GetReputation(ctx, db.ReputationScopeServer, "srv-2", "user-1")
	global, _ := store.GetReputation(ctx, db.ReputationScopeGlobal, "", "user-1")
	if srv1 == nil || srv2 == nil || global == nil {
		t.Fatalf("expected all three reputation rows, got %v %v %v", srv1, srv2, global)
	}
	if srv1.Score != 80 {
		t.Fatalf("srv-1 score = %v, want 80 after a full-confidence penalty", srv1.Score)
	}
	if srv2.Score != 100 {
		t.Fatalf("srv-2 score = %v, want capped 100", srv2.Score)
	}
	want := (srv1.Score + srv2.Score) / 2
	if global.Score != want {
		t.Fatalf("global score = %v, want %v", global.Score, want)
	}
}
