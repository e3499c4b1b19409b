package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/watchdogbot/watchdog/internal/adapters/llm"
)

type Verdict string

const (
	VerdictOK         Verdict = "OK"
	VerdictSuspicious Verdict = "SUSPICIOUS"
)

// Profile describes the account under assessment.
type Profile struct {
	UserID           string
	Username         string
	AccountCreatedAt time.Time
	JoinedServerAt   time.Time
	MessageHistory   []string
}

// AccountAgeDays returns whole days since account creation, relative to now.
func (p Profile) AccountAgeDays(now time.Time) int {
	if p.AccountCreatedAt.IsZero() {
		return -1
	}
	return int(now.Sub(p.AccountCreatedAt).Hours() / 24)
}

type Classification struct {
	Result  Verdict
	Reasons []string
}

// ProfileRiskClassifier assesses whole profiles, as opposed to single
// messages. Implementations are expected to be slow and fallible.
type ProfileRiskClassifier interface {
	Classify(ctx context.Context, profile Profile) (Classification, error)
}

const classifierSystemPrompt = `You are a community-safety classifier. You are given a member profile and a sample of their recent messages. Decide whether the member is likely a spammer, scammer, or fake account.
Respond with exactly one line starting with either OK or SUSPICIOUS, followed by a colon and a semicolon-separated list of short reasons.
Example: SUSPICIOUS: account created yesterday; posts giveaway links`

type llmClassifier struct {
	llm     LLM
	timeout time.Duration
	logger  *log.Entry
}

// NewLLMClassifier wraps a chat-completion model into a profile classifier.
func NewLLMClassifier(model LLM, timeout time.Duration) ProfileRiskClassifier {
	return &llmClassifier{
		llm:     model,
		timeout: timeout,
		logger:  log.WithField("object", "llmClassifier"),
	}
}

func (c *llmClassifier) Classify(ctx context.Context, profile Profile) (Classification, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.llm.ChatCompletion(ctx, []llm.ChatCompletionMessage{
		{Role: llm.RoleSystem, Content: classifierSystemPrompt},
		{Role: llm.RoleUser, Content: buildProfilePrompt(profile)},
	})
	if err != nil {
		return Classification{}, fmt.Errorf("classify profile: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Classification{}, fmt.Errorf("classify profile: empty response")
	}

	classification := parseClassification(resp.Choices[0].Message.Content)
	c.logger.WithField("user_id", profile.UserID).
		WithField("result", string(classification.Result)).
		Debug("classified profile")
	return classification, nil
}

func buildProfilePrompt(profile Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "username: %s\n", profile.Username)
	if !profile.AccountCreatedAt.IsZero() {
		fmt.Fprintf(&b, "account age days: %d\n", profile.AccountAgeDays(time.Now()))
	}
	if !profile.JoinedServerAt.IsZero() {
		fmt.Fprintf(&b, "joined server: %s\n", profile.JoinedServerAt.Format(time.RFC3339))
	}
	b.WriteString("recent messages:\n")
	for _, msg := range profile.MessageHistory {
		fmt.Fprintf(&b, "- %s\n", msg)
	}
	return b.String()
}

func parseClassification(content string) Classification {
	content = strings.TrimSpace(content)
	head, tail, _ := strings.Cut(content, ":")

	result := VerdictOK
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(head)), string(VerdictSuspicious)) {
		result = VerdictSuspicious
	}

	var reasons []string
	for _, reason := range strings.Split(tail, ";") {
		if reason = strings.TrimSpace(reason); reason != "" {
			reasons = append(reasons, reason)
		}
	}
	return Classification{Result: result, Reasons: reasons}
}
