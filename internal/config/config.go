package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		TelegramAPIToken string `env:"TOKEN"`
		LogLevel         int    `env:"LOG_LEVEL,default=2"`
		MetricsAddr      string `env:"METRICS_ADDR,default=:2112"`
		DBPath           string `env:"DB_PATH,default=watchdog.db"`
		LLM              LLM
		Detection        Detection
		Banlist          Banlist
		Retention        Retention
	}

	LLM struct {
		APIKey  string        `env:"LLM_API_KEY,required"`
		Model   string        `env:"LLM_API_MODEL,default=gpt-4o-mini"`
		BaseURL string        `env:"LLM_API_URL,default=https://api.openai.com/v1"`
		Type    string        `env:"LLM_API_TYPE,default=openai"`
		Timeout time.Duration `env:"LLM_TIMEOUT,default=20s"`
	}

	// Detection holds server-independent defaults; per-server overrides live
	// in storage.
	Detection struct {
		MessageThreshold   int     `env:"DETECTION_MESSAGE_THRESHOLD,default=5"`
		TimeframeSeconds   int     `env:"DETECTION_TIMEFRAME_SECONDS,default=10"`
		MinConfidence      float64 `env:"DETECTION_MIN_CONFIDENCE,default=0.5"`
		AutoRestrict       bool    `env:"DETECTION_AUTO_RESTRICT,default=true"`
		NewAccountDays     int     `env:"DETECTION_NEW_ACCOUNT_DAYS,default=7"`
		NewMemberDays      int     `env:"DETECTION_NEW_MEMBER_DAYS,default=3"`
		RecentHistoryLimit int     `env:"DETECTION_RECENT_HISTORY_LIMIT,default=20"`
	}

	Banlist struct {
		URL           string        `env:"BANLIST_URL"`
		FetchInterval time.Duration `env:"BANLIST_FETCH_INTERVAL,default=1h"`
	}

	Retention struct {
		DetectionEventDays int           `env:"RETENTION_DETECTION_DAYS,default=90"`
		SweepInterval      time.Duration `env:"RETENTION_SWEEP_INTERVAL,default=24h"`
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("WD_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}
