package detection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	banlistHTTPTimeout = 10 * time.Second

	kvKeyLastBanlistFetch = "last_banlist_fetch"
)

type banlistStore interface {
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
}

// BanlistService keeps an in-memory set of externally listed scammer ids,
// refreshed on an interval. A fetch failure keeps the previous snapshot.
type BanlistService struct {
	url        string
	interval   time.Duration
	store      banlistStore
	httpClient *http.Client

	listed   map[string]struct{}
	mapMutex sync.RWMutex

	runMutex  sync.Mutex
	started   bool
	runCancel context.CancelFunc
	workersWg sync.WaitGroup
}

func NewBanlistService(url string, interval time.Duration, store banlistStore) *BanlistService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &BanlistService{
		url:        url,
		interval:   interval,
		store:      store,
		httpClient: &http.Client{Timeout: banlistHTTPTimeout},
		listed:     map[string]struct{}{},
	}
}

func (s *BanlistService) Start(ctx context.Context) error {
	s.runMutex.Lock()
	defer s.runMutex.Unlock()
	if s.started || s.url == "" {
		s.started = true
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel

	s.workersWg.Add(1)
	go func() {
		defer s.workersWg.Done()
		if err := s.fetchIfStale(runCtx); err != nil && !errorsIsCanceled(err) {
			log.WithError(err).Error("failed to bootstrap external banlist")
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := s.fetchIfStale(runCtx); err != nil && !errorsIsCanceled(err) {
					log.WithError(err).Error("failed to refresh external banlist")
				}
			}
		}
	}()

	s.started = true
	return nil
}

func (s *BanlistService) Stop(ctx context.Context) error {
	s.runMutex.Lock()
	if !s.started {
		s.runMutex.Unlock()
		return nil
	}
	s.started = false
	cancel := s.runCancel
	s.runMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.workersWg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// IsListed reports whether a user id appears on the external banlist snapshot.
func (s *BanlistService) IsListed(userID string) bool {
	s.mapMutex.RLock()
	defer s.mapMutex.RUnlock()
	_, listed := s.listed[userID]
	return listed
}

func (s *BanlistService) fetchIfStale(ctx context.Context) error {
	lastFetch, err := s.getLastFetch(ctx)
	if err != nil {
		log.WithError(err).Error("failed to get last banlist fetch time")
	}
	if !lastFetch.IsZero() && time.Since(lastFetch) < s.interval {
		return nil
	}
	return s.fetch(ctx)
}

func (s *BanlistService) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("accept", "text/plain")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch banlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	snapshot := map[string]struct{}{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" || strings.HasPrefix(id, "#") {
			continue
		}
		snapshot[id] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read banlist body: %w", err)
	}

	s.mapMutex.Lock()
	s.listed = snapshot
	s.mapMutex.Unlock()

	if err := s.store.SetKV(ctx, kvKeyLastBanlistFetch, time.Now().Format(time.RFC3339)); err != nil {
		log.WithError(err).Error("failed to store banlist fetch time")
	}
	log.WithField("listed", len(snapshot)).Info("refreshed external banlist")
	return nil
}

func (s *BanlistService) getLastFetch(ctx context.Context) (time.Time, error) {
	raw, err := s.store.GetKV(ctx, kvKeyLastBanlistFetch)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, raw)
}

func errorsIsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
