package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"respiration-qa/internal/alerting"
)

// TestAlertOptions describe the synthetic breach to send.
type TestAlertOptions struct {
	PatientID string
	Fraction  string
	Metric    alerting.Metric
	ValueMM   decimal.Decimal
}

// TestAlert pushes a synthetic tolerance notification through the configured
// channels.
func (a *App) TestAlert(ctx context.Context, opts TestAlertOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	limit := a.Config.Alerting.StabilityToleranceMM
	if opts.Metric == alerting.MetricReproducibility {
		limit = a.Config.Alerting.ReproducibilityToleranceMM
	}

	note := alerting.Notification{
		AnalyzedAt:    time.Now().UTC(),
		DataType:      "TEST",
		PatientID:     opts.PatientID,
		Fraction:      opts.Fraction,
		Metric:        opts.Metric,
		ValueMM:       opts.ValueMM,
		ToleranceMM:   decimal.NewFromFloat(limit),
		Channels:      a.Config.Alerting.Channels,
		AdditionalMsg: "This is a test notification.",
	}
	if err := notifier.Notify(ctx, note); err != nil {
		return err
	}
	a.Logger.Info().Str("metric", string(opts.Metric)).Msg("test alert dispatched")
	return nil
}
