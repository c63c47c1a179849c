package recon

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// exportRow is one cached envelope in the export, with its cache key and
// insertion time.
type exportRow struct {
	Key        string    `json:"key"`
	InsertedAt time.Time `json:"inserted_at"`
	Envelope   Envelope  `json:"envelope"`
}

// Export serializes the current (non-expired) cache contents.
// Supported formats: "json" (structured) and "csv" (delimited). Rows are
// sorted by cache key so repeated exports of the same state are stable.
func (svc *Service) Export(format string) (string, error) {
	snap := svc.cache.Snapshot()

	rows := make([]exportRow, 0, len(snap))
	for k, e := range snap {
		env, ok := e.Value.(Envelope)
		if !ok {
			continue
		}
		rows = append(rows, exportRow{Key: k, InsertedAt: e.InsertedAt, Envelope: env})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	var out string
	var err error
	switch format {
	case "json":
		out, err = exportJSON(rows)
	case "csv":
		out, err = exportCSV(rows)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return "", err
	}

	if svc.audit != nil {
		svc.audit.LogAsync(svc.audit.NewAuditEntry("recon", "export",
			map[string]any{"format": format}, map[string]any{"entries": len(rows)}, nil, 0))
	}
	return out, nil
}

func exportJSON(rows []exportRow) (string, error) {
	b, err := json.MarshalIndent(map[string]any{
		"exported_at": time.Now().UTC(),
		"entries":     rows,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("recon: export marshal: %w", err)
	}
	return string(b), nil
}

func exportCSV(rows []exportRow) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	if err := w.Write([]string{
		"source_id", "query", "search_type", "success", "found",
		"confidence", "timestamp", "error",
	}); err != nil {
		return "", fmt.Errorf("recon: export csv: %w", err)
	}
	for _, r := range rows {
		env := r.Envelope
		errMsg, _ := env.Data["error"].(string)
		rec := []string{
			env.SourceID,
			env.Query,
			env.SearchType,
			strconv.FormatBool(env.Success),
			strconv.FormatBool(env.Found()),
			strconv.Itoa(env.Confidence),
			env.Timestamp.UTC().Format(time.RFC3339),
			errMsg,
		}
		if err := w.Write(rec); err != nil {
			return "", fmt.Errorf("recon: export csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("recon: export csv: %w", err)
	}
	return sb.String(), nil
}
