package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	"golang.org/x/sync/errgroup"
)

// GetUpdatesChans fans the long-poll stream into a buffered channel and
// surfaces poll failures on a separate error channel.
func GetUpdatesChans(ctx context.Context, botAPI *api.BotAPI, config api.UpdateConfig) (chan api.Update, chan error) {
	updates := make(chan api.Update, 100)
	errors := make(chan error, 1)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(updates)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			batch, err := botAPI.GetUpdates(config)
			if err != nil {
				return err
			}
			for _, update := range batch {
				if update.UpdateID >= config.Offset {
					config.Offset = update.UpdateID + 1
				}
				select {
				case updates <- update:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})
	go func() {
		if err := g.Wait(); err != nil {
			errors <- err
		}
	}()

	return updates, errors
}
