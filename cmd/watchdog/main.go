package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/watchdogbot/watchdog/internal/adapters"
	"github.com/watchdogbot/watchdog/internal/adapters/llm/gemini"
	"github.com/watchdogbot/watchdog/internal/adapters/llm/openai"
	"github.com/watchdogbot/watchdog/internal/bot"
	"github.com/watchdogbot/watchdog/internal/config"
	"github.com/watchdogbot/watchdog/internal/db/sqlite"
	"github.com/watchdogbot/watchdog/internal/detection"
	"github.com/watchdogbot/watchdog/internal/gateways/telegram"
	"github.com/watchdogbot/watchdog/internal/infra"
	"github.com/watchdogbot/watchdog/internal/lifecycle"
	"github.com/watchdogbot/watchdog/internal/moderation"
	"github.com/watchdogbot/watchdog/internal/observability"
	"github.com/watchdogbot/watchdog/internal/retention"
	"github.com/watchdogbot/watchdog/internal/verification"
)

func main() {
	cfg := config.Get()
	log.SetFormatter(&config.WdFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		log.WithError(err).Errorln("cant initialize observability")
	}

	store := sqlite.NewSQLiteClient(infra.GetWorkDir(), cfg.DBPath)
	defer store.Close()

	var model adapters.LLM
	switch cfg.LLM.Type {
	case "gemini":
		model = gemini.NewGemini(cfg.LLM.APIKey, cfg.LLM.Model, log.WithField("object", "Gemini"))
	default:
		model = openai.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, log.WithField("object", "OpenAI"))
	}
	classifier := adapters.NewLLMClassifier(model, cfg.LLM.Timeout)

	banlist := detection.NewBanlistService(cfg.Banlist.URL, cfg.Banlist.FetchInterval, store)
	rules := detection.NewRulesProvider(store, cfg.Detection)
	orchestrator := detection.NewOrchestrator(store, rules, classifier, banlist, cfg.Detection)

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		log.WithError(err).Errorln("cant initialize bot api")
		time.Sleep(1 * time.Second)
		log.Fatalln("exiting")
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}
	defer botAPI.StopReceivingUpdates()

	operations := telegram.NewOperations(botAPI)
	cases := verification.NewLifecycle(store)
	auditor := moderation.NewAuditor(store)
	coordinator := moderation.NewCoordinator(store, cases, auditor, rules, operations, operations)

	runtime := lifecycle.NewRuntime(
		banlist,
		retention.NewWorker(store, cfg.Retention.DetectionEventDays, cfg.Retention.SweepInterval),
	)
	if err := runtime.Start(ctx); err != nil {
		log.WithError(err).Fatalln("cant start background services")
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithError(err).Errorln("background services stopped uncleanly")
		}
	}()

	processor := bot.NewUpdateProcessor(botAPI, store, orchestrator, coordinator)

	updateConfig := api.NewUpdate(0)
	updateConfig.Timeout = 60
	updateChan, errorChan := bot.GetUpdatesChans(ctx, botAPI, updateConfig)

	go infra.GoRecoverable(5, "update-loop", func() {
		for {
			select {
			case err := <-errorChan:
				log.WithError(err).Fatalln("bot api get updates error")
			case update, ok := <-updateChan:
				if !ok {
					return
				}
				if err := processor.Process(ctx, &update); err != nil {
					log.WithError(err).Errorln("cant process update")
				}
			case <-ctx.Done():
				log.Infoln("no more updates")
				return
			}
		}
	})

	<-ctx.Done()
	log.Infoln("shutting down")
}
