package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bdqcore/internal/infra/artifacts"
	"bdqcore/internal/infra/history"
	"bdqcore/internal/service"
)

const demoInput = "occurrenceID,countryCode,eventDate\no1,US,8 May 1880\no2,ZZ,1900-01-01\n"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCLIAssessesDemoInput(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, "occ.csv", demoInput)

	var stdout, stderr bytes.Buffer
	if code := cli([]string{"occ.csv"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr.String())
	}

	raw, err := os.ReadFile("occ_raw_results.csv")
	if err != nil {
		t.Fatalf("raw results not written: %v", err)
	}
	if !strings.HasPrefix(string(raw), "recordID,testID,testType,status,result,comment,actedUpon,values\n") {
		t.Fatalf("raw results = %q", string(raw))
	}
	amended, err := os.ReadFile("occ_amended.csv")
	if err != nil {
		t.Fatalf("amended dataset not written: %v", err)
	}
	if !strings.Contains(string(amended), "1880-05-08") {
		t.Fatalf("amendment not applied:\n%s", amended)
	}
	if !strings.Contains(stdout.String(), "occ.csv: 2 rows") {
		t.Fatalf("stdout:\n%s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "wrote occ_raw_results.csv") {
		t.Fatalf("stdout:\n%s", stdout.String())
	}
}

func TestCLIConfigFileDrivesRun(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, filepath.Join("data", "occ.csv"), demoInput)
	writeFile(t, "bdqrun.yaml", strings.Join([]string{
		"inputs:",
		"  - data/*.csv",
		"output_dir: results",
		"log_level: error",
		"overrides:",
		"  concurrency: 2",
		"",
	}, "\n"))

	var stdout, stderr bytes.Buffer
	if code := cli(nil, &stdout, &stderr); code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join("results", "occ_raw_results.csv")); err != nil {
		t.Fatalf("output dir not honored: %v", err)
	}
	if _, err := os.Stat(filepath.Join("results", "occ_amended.csv")); err != nil {
		t.Fatalf("output dir not honored: %v", err)
	}
}

func TestCLIFatalJobExitsOne(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, "bad.csv", "id,countryCode\nr1,US\n")

	var stdout, stderr bytes.Buffer
	if code := cli([]string{"bad.csv"}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "NoCoreColumn") {
		t.Fatalf("stdout:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "1 of 1 inputs failed") {
		t.Fatalf("stderr:\n%s", stderr.String())
	}
}

func TestCLIKeepsGoingAfterFatalInput(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, "a_bad.csv", "id,countryCode\nr1,US\n")
	writeFile(t, "b_good.csv", "occurrenceID,countryCode\no1,US\n")

	var stdout, stderr bytes.Buffer
	if code := cli([]string{"a_bad.csv", "b_good.csv"}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit = %d", code)
	}
	if _, err := os.Stat("b_good_raw_results.csv"); err != nil {
		t.Fatalf("good input skipped after bad one: %v", err)
	}
	if !strings.Contains(stderr.String(), "1 of 2 inputs failed") {
		t.Fatalf("stderr:\n%s", stderr.String())
	}
}

func TestCLIUsageErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-no-such-flag"}},
		{"unknown provider", []string{"-provider", "carrier", "x.csv"}},
		{"remote without endpoint", []string{"-provider", "remote", "x.csv"}},
		{"explicit missing config", []string{"-config", "no-such.yaml"}},
		{"no inputs", nil},
		{"bad log level", []string{"-log-level", "loud", "x.csv"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			var stdout, stderr bytes.Buffer
			if code := cli(tc.args, &stdout, &stderr); code != 2 {
				t.Fatalf("exit = %d, stderr:\n%s", code, stderr.String())
			}
		})
	}
}

func TestCLIMalformedConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, "bdqrun.yaml", "inputs: [\"a.csv\"]\nunknown_key: 1\n")
	var stdout, stderr bytes.Buffer
	if code := cli(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "unknown_key") {
		t.Fatalf("stderr:\n%s", stderr.String())
	}
}

func TestCLIServeShutsDownOnSignal(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BDQCORE_HISTORY_DRIVER", "memory")
	t.Setenv("BDQCORE_ARTIFACT_DRIVER", "memory")
	writeFile(t, "occ.csv", demoInput)

	ctx, cancel := context.WithCancel(context.Background())
	old := signalContext
	signalContext = func(context.Context) (context.Context, context.CancelFunc) { return ctx, cancel }
	t.Cleanup(func() { signalContext = old })
	// The input is processed before the listener starts; the cancel lands
	// while the server is waiting for a signal.
	go func() {
		time.Sleep(500 * time.Millisecond)
		cancel()
	}()

	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-serve", "127.0.0.1:0", "occ.csv"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "succeeded") {
		t.Fatalf("stdout:\n%s", stdout.String())
	}
}

func TestNewMuxRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := service.NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	m.CountWorkItem("succeeded")
	mux := newMux(service.NewHandler(history.NewMemory(), artifacts.NewMemory()), reg)

	cases := []struct {
		path     string
		contains string
	}{
		{"/healthz", "ok"},
		{"/metrics", "bdqcore_work_items_total"},
		{"/api/v1/jobs", "jobs"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", tc.path, w.Code)
		}
		if !strings.Contains(w.Body.String(), tc.contains) {
			t.Fatalf("GET %s body = %q", tc.path, w.Body.String())
		}
	}
}

func TestResolveInputsGlobsAndDedupes(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, "a.csv", "x\n")
	writeFile(t, filepath.Join("nested", "b.csv"), "x\n")
	writeFile(t, "notes.txt", "x\n")

	inputs, err := resolveInputs([]string{"**/*.csv", "a.csv"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"a.csv", filepath.Join("nested", "b.csv")}
	if len(inputs) != len(want) || inputs[0] != want[0] || inputs[1] != want[1] {
		t.Fatalf("inputs = %v, want %v", inputs, want)
	}

	if _, err := resolveInputs([]string{"[bad"}); err == nil {
		t.Fatalf("bad pattern accepted")
	}
}

func TestOutputPaths(t *testing.T) {
	raw, amended := outputPaths(filepath.Join("data", "occ.csv"), "")
	if raw != filepath.Join("data", "occ_raw_results.csv") || amended != filepath.Join("data", "occ_amended.csv") {
		t.Fatalf("paths = %s, %s", raw, amended)
	}
	raw, amended = outputPaths(filepath.Join("data", "occ.csv"), "out")
	if raw != filepath.Join("out", "occ_raw_results.csv") || amended != filepath.Join("out", "occ_amended.csv") {
		t.Fatalf("paths = %s, %s", raw, amended)
	}
}
