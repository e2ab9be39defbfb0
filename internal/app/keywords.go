package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bernsmp/zed-seo-tool/internal/domain"
)

// readKeywordsFile reads keywords from a .csv file (first column, optional
// "keyword" header) or any other file with one keyword per line. "-" reads stdin.
func readKeywordsFile(path string) ([]domain.Keyword, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open keywords: %w", err)
		}
		defer f.Close()
		r = f
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return readKeywordsCSV(r)
	}
	return readKeywordLines(r)
}

func readKeywordLines(r io.Reader) ([]domain.Keyword, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read keywords: %w", err)
	}
	var out []domain.Keyword
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, domain.Keyword{Text: line, SourceRow: strconv.Itoa(i + 1)})
	}
	return out, nil
}

func readKeywordsCSV(r io.Reader) ([]domain.Keyword, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	var out []domain.Keyword
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read keywords csv: %w", err)
		}
		if len(rec) == 0 {
			continue
		}
		text := strings.TrimSpace(rec[0])
		if row == 1 && (strings.EqualFold(text, "keyword") || strings.EqualFold(text, "keywords")) {
			continue
		}
		if text == "" {
			continue
		}
		out = append(out, domain.Keyword{Text: text, SourceRow: strconv.Itoa(row)})
	}
	return out, nil
}
