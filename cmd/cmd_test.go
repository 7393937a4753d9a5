package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/brensch/marcreport/internal/config"
	"github.com/brensch/marcreport/internal/db"
	"github.com/brensch/marcreport/internal/report"
	"github.com/brensch/marcreport/internal/testsupport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.DailySourceDir = filepath.Join(root, "daily")
	cfg.FullSourceDir = filepath.Join(root, "full")
	cfg.FullOutputDir = filepath.Join(root, "out")
	cfg.ReportPath = filepath.Join(root, "reports", "bookplates.parquet")
	if err := os.MkdirAll(cfg.FullSourceDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return cfg
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Name", "Count"}, [][]string{{"a", "1"}, {"b"}}, []columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"NAME", "COUNT", "a", "1", "b"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("expected empty output without headers")
	}
}

func TestRunReportWritesParquet(t *testing.T) {
	cfg := testConfig(t)
	testsupport.WriteMarcArchive(t, cfg.FullSourceDir, "export-2.tar.gz", testsupport.Stream(
		testsupport.BuildRecord(
			testsupport.Control("001", "990002"),
			testsupport.Data("245", "a", "Second"),
			testsupport.Data("996", "u", "http://example.org/bookplate/2", "z", "Gift"),
		),
	))
	testsupport.WriteMarcArchive(t, cfg.FullSourceDir, "export-10.tar.gz", testsupport.Stream(
		testsupport.BuildRecord(
			testsupport.Control("001", "990010"),
			testsupport.Data("245", "a", "Tenth"),
			testsupport.Data("996", "u", "http://example.org/BOOKPLATE/10"),
		),
	))
	testsupport.Touch(t, filepath.Join(cfg.FullSourceDir, "export-5.tar.gz"))

	conn, err := db.Open("")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	var out bytes.Buffer
	err = runReport(context.Background(), &out, cfg, conn, discardLogger(), false)
	if err == nil {
		t.Fatal("expected the empty archive to fail the run")
	}

	rows, readErr := report.ReadAll(cfg.ReportPath)
	if readErr != nil {
		t.Fatalf("read report: %v", readErr)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].MMSID != "990002" || rows[1].MMSID != "990010" {
		t.Errorf("rows out of archive order: %+v", rows)
	}
	if rows[0].Bookplate996Z != "Gift" {
		t.Errorf("996 $z = %q", rows[0].Bookplate996Z)
	}

	printed := out.String()
	for _, want := range []string{"Bookplate rows", "export-5.tar.gz", "extract"} {
		if !strings.Contains(printed, want) {
			t.Errorf("summary missing %q:\n%s", want, printed)
		}
	}

	failures, err := db.FileHistory(context.Background(), conn, db.HistoryFilter{Event: db.EventError})
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if len(failures) != 1 || failures[0].Filename != "export-5.tar.gz" {
		t.Fatalf("failures = %+v", failures)
	}
	if !regexp.MustCompile(`Bookplate rows\s*│\s*2\s*│`).MatchString(printed) {
		t.Errorf("summary should report the 2 rows written:\n%s", printed)
	}

	var listed bytes.Buffer
	if err := showFailures(context.Background(), &listed, conn, failures[0].RunID, discardLogger()); err != nil {
		t.Fatalf("showFailures: %v", err)
	}
	if !strings.Contains(listed.String(), "export-5.tar.gz") || !strings.Contains(listed.String(), "extract: ") {
		t.Errorf("failure listing missing archive or stage:\n%s", listed.String())
	}

	listed.Reset()
	if err := showFailures(context.Background(), &listed, conn, "no-such-run", discardLogger()); err != nil {
		t.Fatalf("showFailures: %v", err)
	}
	if !strings.Contains(listed.String(), "No failures recorded") {
		t.Errorf("unexpected output for unknown run: %q", listed.String())
	}
}

func TestRunReportMissingSourceDir(t *testing.T) {
	cfg := testConfig(t)
	if err := os.RemoveAll(cfg.FullSourceDir); err != nil {
		t.Fatal(err)
	}
	conn, err := db.Open("")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := runReport(context.Background(), io.Discard, cfg, conn, discardLogger(), false); err == nil {
		t.Fatal("expected an error for a missing source directory")
	}
}

func TestRootWithoutModePrintsHint(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv(config.EnvDailySourceDir, cfg.DailySourceDir)
	t.Setenv(config.EnvFullSourceDir, cfg.FullSourceDir)
	t.Setenv(config.EnvFullOutputDir, cfg.FullOutputDir)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--db-path", ":memory:", "--log-output", filepath.Join(t.TempDir(), "run.log")})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		closeResources()
	})

	err := rootCmd.ExecuteContext(context.Background())
	if !errors.Is(err, errNoMode) {
		t.Fatalf("err = %v, want errNoMode", err)
	}
	if strings.TrimSpace(out.String()) != noModeMessage {
		t.Errorf("stdout = %q", out.String())
	}
}
