package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dscybers/phishshield/internal/entity"
)

// VerdictsRepository handles verdict history persistence in ClickHouse
type VerdictsRepository struct {
	conn *Connection
}

// NewVerdictsRepository creates a new verdicts repository
func NewVerdictsRepository(conn *Connection) *VerdictsRepository {
	return &VerdictsRepository{conn: conn}
}

// SaveVerdict appends a verdict to the history table
func (r *VerdictsRepository) SaveVerdict(ctx context.Context, v *entity.Verdict) error {
	query := `
		INSERT INTO url_verdicts (
			url, domain, is_malicious, threat_level, confidence, final_score,
			layers, early_exit, timed_out, scan_seconds, details, analyzed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	details, err := json.Marshal(v.Details)
	if err != nil {
		return fmt.Errorf("marshal verdict details: %w", err)
	}

	layers := v.AnalysisLayers
	if layers == nil {
		layers = []string{}
	}

	if err := r.conn.Exec(ctx, query,
		v.URL,
		domainOf(v.URL),
		v.IsMalicious,
		string(v.ThreatLevel),
		v.Confidence,
		v.Details.FinalScore,
		layers,
		v.Details.EarlyExit,
		v.Details.TimedOut,
		v.ScanTime,
		string(details),
		v.Timestamp,
	); err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}

	return nil
}

// History returns the most recent verdicts recorded for rawURL
func (r *VerdictsRepository) History(ctx context.Context, rawURL string, limit int) ([]entity.Verdict, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT url, is_malicious, threat_level, confidence, layers, scan_seconds, details, analyzed_at
		FROM url_verdicts
		WHERE domain = ? AND url = ?
		ORDER BY analyzed_at DESC
		LIMIT ?
	`

	rows, err := r.conn.Query(ctx, query, domainOf(rawURL), rawURL, limit)
	if err != nil {
		return nil, fmt.Errorf("query verdict history: %w", err)
	}
	defer rows.Close()

	verdicts := []entity.Verdict{}
	for rows.Next() {
		var (
			v       entity.Verdict
			level   string
			details string
			at      time.Time
		)
		if err := rows.Scan(&v.URL, &v.IsMalicious, &level, &v.Confidence, &v.AnalysisLayers, &v.ScanTime, &details, &at); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		v.ThreatLevel = entity.ThreatLevel(level)
		v.Timestamp = at
		if err := json.Unmarshal([]byte(details), &v.Details); err != nil {
			return nil, fmt.Errorf("decode verdict details: %w", err)
		}
		verdicts = append(verdicts, v)
	}

	return verdicts, rows.Err()
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
