package detection

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/watchdogbot/watchdog/internal/config"
	"github.com/watchdogbot/watchdog/internal/db"
	"github.com/watchdogbot/watchdog/resources"
)

var (
	keywordsOnce    sync.Once
	defaultKeywords []string
)

// DefaultKeywords returns the embedded fallback keyword list.
func DefaultKeywords() []string {
	keywordsOnce.Do(func() {
		raw, err := resources.FS.ReadFile("keywords.yml")
		if err != nil {
			log.WithError(err).Error("cant read embedded keywords")
			return
		}
		var parsed struct {
			Keywords []string `yaml:"keywords"`
		}
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			log.WithError(err).Error("cant unmarshal embedded keywords")
			return
		}
		defaultKeywords = parsed.Keywords
	})
	return defaultKeywords
}

type rulesStore interface {
	GetServerConfig(ctx context.Context, serverID string) (*db.ServerConfig, error)
}

// RulesProvider resolves effective per-server rules, falling back to
// env-derived defaults and the embedded keyword list.
type RulesProvider struct {
	store    rulesStore
	defaults config.Detection
}

func NewRulesProvider(store rulesStore, defaults config.Detection) *RulesProvider {
	return &RulesProvider{store: store, defaults: defaults}
}

func (p *RulesProvider) ServerRules(ctx context.Context, serverID string) Rules {
	rules := Rules{
		MessageThreshold:       p.defaults.MessageThreshold,
		TimeframeSeconds:       p.defaults.TimeframeSeconds,
		SuspiciousKeywords:     DefaultKeywords(),
		MinConfidenceThreshold: p.defaults.MinConfidence,
		AutoRestrict:           p.defaults.AutoRestrict,
	}

	cfg, err := p.store.GetServerConfig(ctx, serverID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.WithError(err).WithField("server_id", serverID).Error("cant load server config")
		}
		return rules
	}

	if cfg.MessageThreshold > 0 {
		rules.MessageThreshold = cfg.MessageThreshold
	}
	if cfg.TimeframeSeconds > 0 {
		rules.TimeframeSeconds = cfg.TimeframeSeconds
	}
	if len(cfg.SuspiciousKeywords) > 0 {
		rules.SuspiciousKeywords = cfg.SuspiciousKeywords
	}
	if cfg.MinConfidenceThreshold > 0 {
		rules.MinConfidenceThreshold = cfg.MinConfidenceThreshold
	}
	rules.AutoRestrict = cfg.AutoRestrict

	return rules
}
