package sqlite

import (
	"context"
	"log"
	"time"

	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
)

// RecordCall appends a gateway attempt to the call log. Failures are logged
// and otherwise ignored.
func (s *Store) RecordCall(rec llm.CallRecord) {
	errText := ""
	if rec.Err != nil {
		errText = rec.Err.Error()
	}
	_, err := s.db.Exec(
		`INSERT INTO llm_calls (task, provider, model, attempt, input_tokens, output_tokens, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Task, rec.Provider, rec.Model, rec.Attempt,
		rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Duration.Milliseconds(), errText,
	)
	if err != nil {
		log.Printf("sqlite call log insert error task=%s err=%v", rec.Task, err)
	}
}

type CallStats struct {
	Task         string
	Model        string
	Calls        int
	Failures     int
	InputTokens  int64
	OutputTokens int64
}

func (s *Store) CallStatsSince(ctx context.Context, since time.Time) ([]CallStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task, model, COUNT(*),
		        SUM(CASE WHEN error <> '' THEN 1 ELSE 0 END),
		        COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		 FROM llm_calls WHERE called_at >= ?
		 GROUP BY task, model ORDER BY task, model`,
		since.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallStats
	for rows.Next() {
		var st CallStats
		if err := rows.Scan(&st.Task, &st.Model, &st.Calls, &st.Failures, &st.InputTokens, &st.OutputTokens); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
