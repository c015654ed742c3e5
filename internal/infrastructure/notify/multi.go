package notify

import (
	"context"
	"errors"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/ports"
)

type multi []ports.Notifier

// Multi fans a digest out to every configured channel. All channels are
// attempted even when an earlier one fails; the failures are joined.
func Multi(channels ...ports.Notifier) ports.Notifier {
	return multi(channels)
}

func (m multi) Deliver(ctx context.Context, sub domain.Subscription, res domain.FilteredResult) error {
	var errs []error
	for _, channel := range m {
		if err := channel.Deliver(ctx, sub, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
