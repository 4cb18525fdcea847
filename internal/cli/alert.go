package cli

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"respiration-qa/internal/alerting"
	"respiration-qa/internal/app"
)

var (
	testAlertPatient  string
	testAlertFraction string
	testAlertMetric   string
	testAlertValue    float64
)

var testAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Send a synthetic tolerance alert through the configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if testAlertValue <= 0 {
			return errors.New("--value must be greater than zero")
		}

		metric := alerting.Metric(testAlertMetric)
		if metric != alerting.MetricReproducibility && metric != alerting.MetricStability {
			return fmt.Errorf("--metric must be %s or %s", alerting.MetricReproducibility, alerting.MetricStability)
		}

		opts := app.TestAlertOptions{
			PatientID: testAlertPatient,
			Fraction:  testAlertFraction,
			Metric:    metric,
			ValueMM:   decimal.NewFromFloat(testAlertValue),
		}
		return getApp().TestAlert(cmd.Context(), opts)
	},
}

func init() {
	testAlertCmd.Flags().StringVar(&testAlertPatient, "patient", "TEST", "Patient ID shown in the alert")
	testAlertCmd.Flags().StringVar(&testAlertFraction, "fraction", "1", "Fraction shown in the alert")
	testAlertCmd.Flags().StringVar(&testAlertMetric, "metric", string(alerting.MetricStability), "Metric that breached: reproducibility or stability")
	testAlertCmd.Flags().Float64Var(&testAlertValue, "value", 1.0, "Metric value in mm")
}
