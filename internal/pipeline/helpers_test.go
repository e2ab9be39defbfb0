package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bernsmp/zed-seo-tool/internal/config"
	"github.com/bernsmp/zed-seo-tool/internal/cost"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
)

// fakeProvider answers gateway calls from a handler keyed on the request.
type fakeProvider struct {
	mu      sync.Mutex
	handler func(req llm.Request, keywords []string) (string, error)
	calls   map[string]int
}

func newFakeProvider(handler func(req llm.Request, keywords []string) (string, error)) *fakeProvider {
	return &fakeProvider{handler: handler, calls: make(map[string]int)}
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	f.calls[req.Task]++
	f.mu.Unlock()
	text, err := f.handler(req, promptKeywords(req.User))
	if err != nil {
		return llm.Response{}, err
	}
	return llm.Response{Text: text, Usage: domain.LLMUsage{Calls: 1, InputTokens: 100, OutputTokens: 50}}, nil
}

func (f *fakeProvider) Calls(task string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[task]
}

// promptKeywords reads the "- keyword" lines after the last "Keywords" heading.
func promptKeywords(user string) []string {
	i := strings.LastIndex(user, "Keywords to ")
	if i < 0 {
		i = strings.LastIndex(user, "Supporting keywords:")
	}
	if i < 0 {
		return nil
	}
	var out []string
	for _, line := range strings.Split(user[i:], "\n")[1:] {
		if strings.HasPrefix(line, "- ") {
			out = append(out, strings.TrimPrefix(line, "- "))
		}
	}
	return out
}

func noSleepPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Retryable:   llm.IsTransient,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func testSettings() Settings {
	return Settings{
		BatchSize:          10,
		JSONMode:           true,
		AnchorExamples:     3,
		QCEnabled:          true,
		QCFlagThreshold:    70,
		QCSampleSize:       150,
		MappingMaxURLs:     200,
		ClusterMaxKeywords: 300,
	}
}

func newTestPipeline(provider llm.Provider, store CheckpointStore, settings Settings) *Pipeline {
	gw := llm.NewGateway(provider, noSleepPolicy())
	table := cost.Table{
		Models:   map[string]config.ModelPrice{"fake-model": {Input: 1, Output: 5}},
		Fallback: config.ModelPrice{Input: 1, Output: 5},
	}
	return New(gw, store, table, settings)
}

func testProfile() domain.ClientProfile {
	return domain.ClientProfile{
		ClientID:         "acme_dental",
		BusinessName:     "Acme Dental",
		Domain:           "acmedental.com",
		Services:         []string{"implants", "whitening"},
		Locations:        []string{"Austin"},
		NegativeKeywords: []string{"free", "Jobs"},
		URLInventory: []domain.PageRef{
			{URL: "https://acmedental.com/implants", Title: "Dental Implants"},
			{URL: "https://acmedental.com/whitening", Title: "Teeth Whitening"},
		},
	}
}

func testJob(id string) Job {
	p := testProfile()
	return Job{ID: id, ClientID: p.ClientID, Profile: p}
}

func keywords(texts ...string) []domain.Keyword {
	out := make([]domain.Keyword, len(texts))
	for i, t := range texts {
		out[i] = domain.Keyword{Text: t}
	}
	return out
}

// labelFor is the fake model's deterministic classification rule.
func labelFor(kw string) (string, int) {
	switch {
	case strings.Contains(kw, "austin"):
		return "KEEP", 92
	case strings.Contains(kw, "dallas"):
		return "REMOVE", 88
	default:
		return "UNSURE", 55
	}
}

func classifyJSON(kws []string) string {
	type item struct {
		Keyword    string `json:"keyword"`
		Label      string `json:"label"`
		Confidence int    `json:"confidence"`
		Reason     string `json:"reason"`
	}
	items := make([]item, len(kws))
	for i, kw := range kws {
		label, conf := labelFor(kw)
		items[i] = item{Keyword: kw, Label: label, Confidence: conf, Reason: "rule"}
	}
	raw, _ := json.Marshal(map[string]any{"classifications": items})
	return "Here you go:\n```json\n" + string(raw) + "\n```"
}

const qcJSON = `{"overall_score": 82, "tips": ["Review UNSURE terms"], "corrections": []}`

// classifyHandler answers classify and QC calls.
func classifyHandler(req llm.Request, kws []string) (string, error) {
	if req.Task == "qc" {
		return qcJSON, nil
	}
	return classifyJSON(kws), nil
}

func transient() error {
	return &llm.GatewayError{Kind: llm.KindTransient, Provider: "fake", StatusCode: 503, Err: errors.New("unavailable")}
}

func fatal() error {
	return &llm.GatewayError{Kind: llm.KindFatal, Provider: "fake", StatusCode: 401, Err: errors.New("bad key")}
}

func generatedKeywords(n int) []domain.Keyword {
	cities := []string{"austin", "dallas", "houston"}
	out := make([]domain.Keyword, n)
	for i := range out {
		out[i] = domain.Keyword{Text: strings.Join([]string{"dentist", cities[i%3], "option", string(rune('a' + i%26)), strconv.Itoa(i)}, " ")}
	}
	return out
}
