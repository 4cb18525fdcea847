package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respiration-qa/internal/alerting"
	"respiration-qa/internal/config"
	"respiration-qa/internal/storage"
)

func testApp(t *testing.T, root string) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		Analysis: config.AnalysisConfig{
			DataRoot:         root,
			SamplingPeriod:   0.015,
			MinBeamDuration:  0.1,
			UnitScale:        10,
			Workers:          2,
			FailureIsolation: "patient",
		},
		Alerting: config.AlertingConfig{Channels: []string{"log"}},
		Export:   config.ExportConfig{MaxDataPoints: 100},
	}
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out
}

func writeFieldLog(t *testing.T, path string, amplitude ...string) {
	t.Helper()
	content := "=============\n=============\n=============\n=============\n-------------\nTime\tAmplitude\n" +
		strings.Join(amplitude, "\n") +
		"\n\n-------------\n=============\n=============\nTime\tState\n0.000\t1\n0.200\t0\n\n"
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func sampleRecords(n int) []storage.ResultRecord {
	at := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	records := make([]storage.ResultRecord, n)
	for i := range records {
		records[i] = storage.ResultRecord{
			PatientID:       "P1",
			DataType:        "STATIC",
			Fraction:        strconv.Itoa(i + 1),
			Reproducibility: decimal.NewFromFloat(0.1 * float64(i)),
			Stability:       decimal.RequireFromString("0.05"),
			AnalyzedAt:      at,
		}
	}
	return records
}

func TestAnalyzePrintsTableAndWritesCSV(t *testing.T) {
	root := t.TempDir()
	writeFieldLog(t, filepath.Join(root, "STATIC", "P1", "1", "f1.txt"), "0.000\t0.050", "0.015\t0.060", "0.030\t0.055")
	writeFieldLog(t, filepath.Join(root, "STATIC", "P1", "2", "f1.txt"), "0.000\t0.070", "0.015\t0.070")

	a, out := testApp(t, root)
	csvPath := filepath.Join(t.TempDir(), "nested", "results.csv")

	err := a.Analyze(context.Background(), AnalyzeOptions{NoStore: true, CSVPath: csvPath})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Reproducibility")
	assert.Contains(t, text, "0.5500")
	assert.Contains(t, text, "0.7000")

	file, err := os.Open(csvPath)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"STATIC", "P1", "1", "0.0000", "0.5500", "0.0000", "0.0500", "0.0500", "0.0000"}, rows[1][:9])
	assert.Equal(t, "2", rows[2][2])
}

func TestAnalyzeReportsSkippedPatients(t *testing.T) {
	root := t.TempDir()
	writeFieldLog(t, filepath.Join(root, "ARC", "P1", "1", "f1.txt"), "0.000\t0.050", "0.015\t0.060")
	writeFieldLog(t, filepath.Join(root, "ARC", "P2", "1", "f1.txt"), "0.000\tnot-a-number")

	a, out := testApp(t, root)
	require.NoError(t, a.Analyze(context.Background(), AnalyzeOptions{NoStore: true}))

	assert.Contains(t, out.String(), "1 patient(s) skipped")
	assert.Contains(t, out.String(), "patient P2")
}

func TestAnalyzeMissingRoot(t *testing.T) {
	a, _ := testApp(t, filepath.Join(t.TempDir(), "absent"))
	err := a.Analyze(context.Background(), AnalyzeOptions{NoStore: true})
	assert.Error(t, err)
}

func TestDownsampleRecords(t *testing.T) {
	records := sampleRecords(10)

	assert.Len(t, downsampleRecords(records, 0), 10)
	assert.Len(t, downsampleRecords(records, 20), 10)
	assert.Len(t, downsampleRecords(records, 1), 1)

	got := downsampleRecords(records, 4)
	require.Len(t, got, 4)
	assert.Equal(t, "1", got[0].Fraction)
	assert.Equal(t, "10", got[3].Fraction)
}

func TestWriteResultsPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, writeResultsPNG(path, sampleRecords(5)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	single := filepath.Join(t.TempDir(), "single.png")
	assert.NoError(t, writeResultsPNG(single, sampleRecords(1)))
	assert.Error(t, writeResultsPNG(single, nil))
}

func TestExportRequiresOutput(t *testing.T) {
	a, _ := testApp(t, t.TempDir())
	assert.Error(t, a.Export(context.Background(), ExportOptions{}))
	assert.Error(t, a.Export(context.Background(), ExportOptions{CSVPath: "x.csv"}), "no database configured")
}

func TestNewNotifierChannels(t *testing.T) {
	a, _ := testApp(t, t.TempDir())
	assert.IsType(t, &alerting.LogNotifier{}, a.newNotifier())

	a.Config.Alerting.Channels = []string{"telegram"}
	assert.Nil(t, a.newNotifier(), "disabled telegram yields no notifier")

	a.Config.Alerting.Channels = []string{"log", "telegram", "pager"}
	a.Config.Alerting.Telegram = config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c", APIBase: "http://localhost"}
	multi, ok := a.newNotifier().(alerting.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}

func TestTestAlert(t *testing.T) {
	a, _ := testApp(t, t.TempDir())
	opts := TestAlertOptions{PatientID: "P1", Fraction: "1", Metric: alerting.MetricStability, ValueMM: decimal.RequireFromString("0.9")}

	assert.Error(t, a.TestAlert(context.Background(), opts), "alerting disabled")

	a.Config.Alerting.Enabled = true
	assert.NoError(t, a.TestAlert(context.Background(), opts))

	a.Config.Alerting.Channels = nil
	assert.Error(t, a.TestAlert(context.Background(), opts))
}
