package semrush

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bernsmp/zed-seo-tool/internal/config"
	"github.com/bernsmp/zed-seo-tool/internal/domain"
	"github.com/bernsmp/zed-seo-tool/internal/httpx"
)

const (
	DefaultBaseURL  = "https://api.semrush.com/"
	DefaultUnitsURL = "https://www.semrush.com/users/countapiunit"

	// UnitsPerKeyword is what one domain_organic row costs.
	UnitsPerKeyword = 10

	defaultColumns = "Ph,Nq,Kd,Co,Nr,In"
)

var ErrNotConfigured = errors.New("SEMRUSH_API_KEY not set")

// KeywordRow is one organic keyword a competitor ranks for.
type KeywordRow struct {
	Keyword         string  `json:"keyword"`
	Volume          int     `json:"volume"`
	Difficulty      float64 `json:"keyword_difficulty"`
	Competition     float64 `json:"competition"`
	CPC             float64 `json:"cpc"`
	NumberOfResults int64   `json:"number_of_results"`
	Intent          string  `json:"intent"`
	Position        int     `json:"position"`
}

type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	unitsURL   string
}

// New builds a client from config. It returns ErrNotConfigured without a key.
func New(cfg config.Config) (*Client, error) {
	if strings.TrimSpace(cfg.SemrushAPIKey) == "" {
		return nil, ErrNotConfigured
	}
	baseURL := cfg.SemrushBaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return NewClient(httpx.ExternalHTTPClient(), cfg.SemrushAPIKey, baseURL, DefaultUnitsURL), nil
}

func NewClient(httpClient *http.Client, apiKey, baseURL, unitsURL string) *Client {
	return &Client{httpClient: httpClient, apiKey: apiKey, baseURL: baseURL, unitsURL: unitsURL}
}

// EstimateUnits is the API unit cost of pulling limit keyword rows.
func EstimateUnits(limit int) int {
	if limit < 0 {
		return 0
	}
	return limit * UnitsPerKeyword
}

// UnitsRemaining returns the account's API unit balance, or -1 when the
// endpoint does not answer with a number.
func (c *Client) UnitsRemaining(ctx context.Context) int {
	q := url.Values{"key": {c.apiKey}}
	body, err := c.get(ctx, c.unitsURL, q)
	if err != nil {
		log.Printf("semrush units error err=%v", err)
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil {
		log.Printf("semrush units unreadable body=%q", truncate(body, 50))
		return -1
	}
	return n
}

// CompetitorKeywords pulls the organic keywords a competitor domain ranks for.
func (c *Client) CompetitorKeywords(ctx context.Context, competitor, database string, limit int) ([]KeywordRow, error) {
	competitor = strings.TrimSpace(competitor)
	if competitor == "" {
		return nil, errors.New("competitor domain is required")
	}
	if database == "" {
		database = "us"
	}
	q := url.Values{
		"type":           {"domain_organic"},
		"key":            {c.apiKey},
		"domain":         {competitor},
		"database":       {database},
		"display_limit":  {strconv.Itoa(limit)},
		"export_columns": {defaultColumns},
	}
	body, err := c.get(ctx, c.baseURL, q)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errors.New("semrush: empty response")
	}
	if strings.Contains(truncate(body, 50), "ERROR") {
		return nil, fmt.Errorf("semrush: %s", truncate(body, 200))
	}
	rows, err := ParseKeywordRows(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	log.Printf("semrush pull domain=%s database=%s rows=%d units=%d", competitor, database, len(rows), EstimateUnits(len(rows)))
	return rows, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("semrush request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("semrush read: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("semrush status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	return string(data), nil
}

// columnFields maps both the export codes and the long header names.
var columnFields = map[string]string{
	"ph": "keyword", "keyword": "keyword",
	"nq": "volume", "search volume": "volume",
	"kd": "keyword_difficulty", "keyword difficulty": "keyword_difficulty",
	"co": "competition", "competition": "competition",
	"cp": "cpc", "cpc": "cpc",
	"nr": "number_of_results", "number of results": "number_of_results",
	"in": "intent", "intent": "intent", "intents": "intent",
	"po": "position", "position": "position",
}

// ParseKeywordRows reads the semicolon separated export. Rows without a
// keyword are skipped; unreadable numbers are left at zero.
func ParseKeywordRows(r io.Reader) ([]KeywordRow, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("semrush header: %w", err)
	}
	fields := make([]string, len(header))
	hasKeyword := false
	for i, h := range header {
		fields[i] = columnFields[strings.ToLower(strings.TrimSpace(h))]
		hasKeyword = hasKeyword || fields[i] == "keyword"
	}
	if !hasKeyword {
		return nil, fmt.Errorf("semrush header has no keyword column: %q", strings.Join(header, ";"))
	}

	var out []KeywordRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("semrush row: %w", err)
		}
		var row KeywordRow
		for i, v := range rec {
			if i >= len(fields) {
				break
			}
			v = strings.TrimSpace(v)
			switch fields[i] {
			case "keyword":
				row.Keyword = v
			case "volume":
				row.Volume, _ = strconv.Atoi(v)
			case "keyword_difficulty":
				row.Difficulty, _ = strconv.ParseFloat(v, 64)
			case "competition":
				row.Competition, _ = strconv.ParseFloat(v, 64)
			case "cpc":
				row.CPC, _ = strconv.ParseFloat(v, 64)
			case "number_of_results":
				row.NumberOfResults, _ = strconv.ParseInt(v, 10, 64)
			case "intent":
				row.Intent = v
			case "position":
				row.Position, _ = strconv.Atoi(v)
			}
		}
		if row.Keyword == "" {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// Keywords turns pulled rows into pipeline input, tagging each with its source.
func Keywords(competitor string, rows []KeywordRow) []domain.Keyword {
	out := make([]domain.Keyword, 0, len(rows))
	for i, r := range rows {
		out = append(out, domain.Keyword{Text: r.Keyword, SourceRow: fmt.Sprintf("semrush:%s:%d", competitor, i+1)})
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
