package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bernsmp/zed-seo-tool/internal/cost"
	"github.com/bernsmp/zed-seo-tool/internal/pipeline"
)

// setupEnv points every path at a temp dir and returns it.
func setupEnv(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("LLM_PROVIDER", "openrouter")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-test")
	t.Setenv("LLM_MODEL", "anthropic/claude-haiku-4-5-20251001")
	t.Setenv("QC_ENABLED", "false")
	t.Setenv("DB_PATH", filepath.Join(dir, "seotool.db"))
	t.Setenv("PROFILES_DIR", filepath.Join(dir, "clients"))
	t.Setenv("OUTPUT_DIR", filepath.Join(dir, "results"))
	t.Setenv("TIMEZONE", "UTC")
	if baseURL != "" {
		t.Setenv("LLM_BASE_URL", baseURL)
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const profileYAML = `client_id: acme_dental
business_name: Acme Dental
domain: acmedental.com
services: [implants, whitening]
negative_keywords: [free]
url_inventory:
  - https://acmedental.com/implants
  - url: https://acmedental.com/whitening
    title: Teeth Whitening
`

func TestReadKeywordsFile(t *testing.T) {
	dir := t.TempDir()
	txt := writeFile(t, filepath.Join(dir, "kw.txt"), "dentist austin\n\n# comment\n  implants near me  \n")
	kws, err := readKeywordsFile(txt)
	if err != nil {
		t.Fatalf("readKeywordsFile failed: %v", err)
	}
	if len(kws) != 2 || kws[1].Text != "implants near me" || kws[1].SourceRow != "4" {
		t.Fatalf("unexpected keywords %+v", kws)
	}

	csvPath := writeFile(t, filepath.Join(dir, "kw.csv"), "Keyword,Volume\n\"dentist, austin\",320\nimplants,90\n")
	kws, err = readKeywordsFile(csvPath)
	if err != nil {
		t.Fatalf("readKeywordsFile csv failed: %v", err)
	}
	if len(kws) != 2 || kws[0].Text != "dentist, austin" || kws[0].SourceRow != "2" {
		t.Fatalf("unexpected csv keywords %+v", kws)
	}
}

func TestEstimateCommand(t *testing.T) {
	setupEnv(t, "")
	out, err := run(t, "estimate", "--count", "100")
	if err != nil {
		t.Fatalf("estimate failed: %v\n%s", err, out)
	}
	var est cost.Estimate
	if err := json.Unmarshal([]byte(out), &est); err != nil {
		t.Fatalf("estimate output is not JSON: %v\n%s", err, out)
	}
	if est.Calls != 5 || !est.PricingKnown || est.CostUSD <= 0 {
		t.Fatalf("unexpected estimate %+v", est)
	}
}

func TestEstimateCommandWithSemrushLimit(t *testing.T) {
	setupEnv(t, "")
	out, err := run(t, "estimate", "--semrush-limit", "200")
	if err != nil {
		t.Fatalf("estimate failed: %v\n%s", err, out)
	}
	var est cost.Estimate
	if err := json.Unmarshal([]byte(out), &est); err != nil {
		t.Fatalf("estimate output is not JSON: %v\n%s", err, out)
	}
	if est.SemrushUnits != 2000 || est.Calls != 10 {
		t.Fatalf("unexpected estimate %+v", est)
	}
}

func TestSemrushPullWritesKeywordsCSV(t *testing.T) {
	dir := setupEnv(t, "")
	var gotDomain, gotDatabase string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDomain = r.URL.Query().Get("domain")
		gotDatabase = r.URL.Query().Get("database")
		_, _ = w.Write([]byte("Keyword;Search Volume;Keyword Difficulty;Competition;Intents\n" +
			"dental implants austin;1900;42;0.81;3\n" +
			"dentist, open saturday;320;18;0.4;1\n"))
	}))
	t.Cleanup(server.Close)
	t.Setenv("SEMRUSH_API_KEY", "sr-test")
	t.Setenv("SEMRUSH_BASE_URL", server.URL+"/")
	t.Setenv("SEMRUSH_DATABASE", "uk")

	outPath := filepath.Join(dir, "competitor.csv")
	out, err := run(t, "semrush", "pull", "--domain", "competitor.com", "--limit", "50", "-o", outPath)
	if err != nil {
		t.Fatalf("semrush pull failed: %v\n%s", err, out)
	}
	if gotDomain != "competitor.com" || gotDatabase != "uk" {
		t.Fatalf("unexpected request domain=%q database=%q", gotDomain, gotDatabase)
	}
	if !strings.Contains(out, "Wrote 2 keywords") {
		t.Fatalf("unexpected output: %s", out)
	}

	kws, err := readKeywordsFile(outPath)
	if err != nil {
		t.Fatalf("reading pulled keywords failed: %v", err)
	}
	if len(kws) != 2 || kws[1].Text != "dentist, open saturday" {
		t.Fatalf("unexpected keywords %+v", kws)
	}
}

func TestSemrushPullNeedsKey(t *testing.T) {
	setupEnv(t, "")
	t.Setenv("SEMRUSH_API_KEY", "")
	if _, err := run(t, "semrush", "pull", "--domain", "competitor.com"); err == nil || !strings.Contains(err.Error(), "SEMRUSH_API_KEY") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestProfileImportShowList(t *testing.T) {
	dir := setupEnv(t, "")
	src := writeFile(t, filepath.Join(dir, "acme.yaml"), profileYAML)

	if out, err := run(t, "profile", "import", "-f", src); err != nil || !strings.Contains(out, "acme_dental") {
		t.Fatalf("import failed: %v\n%s", err, out)
	}
	out, err := run(t, "profile", "show", "--client", "Acme Dental")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out, "business_name: Acme Dental") || !strings.Contains(out, "https://acmedental.com/whitening") {
		t.Fatalf("unexpected profile output:\n%s", out)
	}
	out, _ = run(t, "profile", "list")
	if strings.TrimSpace(out) != "acme_dental" {
		t.Fatalf("unexpected client list %q", out)
	}
}

func TestEnqueueAndListJobs(t *testing.T) {
	dir := setupEnv(t, "")
	writeFile(t, filepath.Join(dir, "clients", "acme_dental", "profile.yaml"), profileYAML)
	kw := writeFile(t, filepath.Join(dir, "kw.txt"), "dentist austin\nimplants\n")

	out, err := run(t, "enqueue", "--client", "acme_dental", "-t", "classify", "-f", kw)
	if err != nil || !strings.Contains(out, "Queued classification job") {
		t.Fatalf("enqueue failed: %v\n%s", err, out)
	}
	if _, err := run(t, "enqueue", "--client", "acme_dental", "-t", "map"); err == nil {
		t.Fatal("expected mapping enqueue without keywords to fail")
	}
	out, err = run(t, "jobs", "list")
	if err != nil {
		t.Fatalf("jobs list failed: %v", err)
	}
	if !strings.Contains(out, "acme_dental") || !strings.Contains(out, "pending") {
		t.Fatalf("unexpected jobs list:\n%s", out)
	}
}

// fakeOpenRouter keeps every keyword it is asked to classify.
func fakeOpenRouter(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) < 2 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		user := req.Messages[1].Content
		var items []map[string]any
		if i := strings.LastIndex(user, "Keywords to classify:"); i >= 0 {
			for _, line := range strings.Split(user[i:], "\n")[1:] {
				if kw, ok := strings.CutPrefix(line, "- "); ok {
					items = append(items, map[string]any{"keyword": kw, "label": "KEEP", "confidence": 91, "reason": "service match"})
				}
			}
		}
		content, _ := json.Marshal(map[string]any{"classifications": items})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "anthropic/claude-haiku-4-5-20251001",
			"choices": []any{map[string]any{"message": map[string]any{"content": string(content)}}},
			"usage":   map[string]any{"prompt_tokens": 200, "completion_tokens": 40},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassifyCommandWritesResultsAndResumes(t *testing.T) {
	srv := fakeOpenRouter(t)
	dir := setupEnv(t, srv.URL)
	writeFile(t, filepath.Join(dir, "clients", "acme_dental", "profile.yaml"), profileYAML)
	kw := writeFile(t, filepath.Join(dir, "kw.txt"), "dentist austin\nfree dental checkup\nimplants\nImplants\n")

	out, err := run(t, "classify", "--client", "acme_dental", "-f", kw, "--job-id", "job-1", "-q")
	if err != nil {
		t.Fatalf("classify failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "3 results (llm=2 filter=1") {
		t.Fatalf("unexpected summary:\n%s", out)
	}

	data, err := os.ReadFile(filepath.Join(dir, "results", "acme_dental", "classification-job-1.json"))
	if err != nil {
		t.Fatalf("results not written: %v", err)
	}
	var outcome pipeline.ClassificationOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		t.Fatal(err)
	}
	if len(outcome.Results) != 3 || outcome.Duplicates != 1 {
		t.Fatalf("unexpected outcome: %d results, %d duplicates", len(outcome.Results), outcome.Duplicates)
	}

	out, err = run(t, "checkpoint", "list", "--client", "acme_dental")
	if err != nil || !strings.Contains(out, "classification") || !strings.Contains(out, "1/1") {
		t.Fatalf("unexpected checkpoint list: %v\n%s", err, out)
	}
	out, err = run(t, "usage")
	if err != nil || !strings.Contains(out, "classify") {
		t.Fatalf("unexpected usage output: %v\n%s", err, out)
	}
	if out, err := run(t, "checkpoint", "clear", "--client", "acme_dental"); err != nil || !strings.Contains(out, "Cleared classification") {
		t.Fatalf("clear failed: %v\n%s", err, out)
	}
}
