// Package notify delivers dispatched listings to subscribers and archives.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/time/rate"

	"github.com/mateNemeth/kona2.0/alert"
	"github.com/mateNemeth/kona2.0/models"
	"github.com/mateNemeth/kona2.0/store"
)

// Notifier receives every dispatched listing.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, payload models.VehiclePayload) error
}

// Alert is what a subscriber is told about one listing. Statistic is nil
// when the category has no price statistic yet.
type Alert struct {
	Payload   models.VehiclePayload
	Statistic *models.PriceStatistic
}

// Transport sends one alert to one address.
type Transport interface {
	Send(ctx context.Context, a Alert, address string) error
}

// AlertNotifierName identifies the subscriber alert notifier in logs and metrics.
const AlertNotifierName = "alert_mailer"

// AlertNotifier matches listings against subscriber filters and mails
// every matching subscriber once.
type AlertNotifier struct {
	alerts    store.AlertStore
	stats     store.StatisticsStore
	transport Transport
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewAlertNotifier wires the matcher to a transport. A nil limiter
// disables throttling.
func NewAlertNotifier(alerts store.AlertStore, stats store.StatisticsStore, transport Transport, limiter *rate.Limiter, logger *slog.Logger) *AlertNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertNotifier{
		alerts:    alerts,
		stats:     stats,
		transport: transport,
		limiter:   limiter,
		logger:    logger.With(slog.String("component", AlertNotifierName)),
	}
}

func (n *AlertNotifier) Name() string { return AlertNotifierName }

// Notify sends the payload to the owners of every matching filter. Send
// failures are collected and do not stop delivery to other addresses.
func (n *AlertNotifier) Notify(ctx context.Context, payload models.VehiclePayload) error {
	filters, err := n.alerts.ListAlertFilters(ctx)
	if err != nil {
		return fmt.Errorf("list alert filters: %w", err)
	}
	matched := alert.Filter(filters, payload)
	if len(matched) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(matched))
	for _, f := range matched {
		ids = append(ids, f.ID)
	}
	emails, err := n.alerts.SubscriberEmails(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolve subscribers: %w", err)
	}
	addresses := uniqueAddresses(emails)
	if len(addresses) == 0 {
		return nil
	}

	a := Alert{Payload: payload}
	stat, err := n.stats.PriceStatistic(ctx, payload.CategoryID)
	switch {
	case err == nil:
		a.Statistic = stat
	case errors.Is(err, store.ErrNotFound):
	default:
		n.logger.Warn("price statistic unavailable",
			slog.Int64("category_id", payload.CategoryID),
			slog.Any("error", err),
		)
	}

	n.logger.Info("sending alerts",
		slog.Int64("listing_id", payload.ListingID),
		slog.Int("recipients", len(addresses)),
	)

	var errs []error
	for _, addr := range addresses {
		if n.limiter != nil {
			if err := n.limiter.Wait(ctx); err != nil {
				errs = append(errs, fmt.Errorf("throttle %s: %w", addr, err))
				break
			}
		}
		if err := n.transport.Send(ctx, a, addr); err != nil {
			n.logger.Error("alert send failed",
				slog.String("recipient", addr),
				slog.Any("error", err),
			)
			errs = append(errs, fmt.Errorf("send to %s: %w", addr, err))
			continue
		}
		n.logger.Debug("alert sent", slog.String("recipient", addr))
	}
	return errors.Join(errs...)
}

func uniqueAddresses(emails map[int64]string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
