package adapters

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// maxLineBytes bounds a single transcript line. Assistant turns with
	// inlined file contents routinely exceed bufio's 64KB default.
	maxLineBytes = 16 * 1024 * 1024

	snippetLimit = 5
	snippetRunes = 200
)

// ParseTimestamp accepts the timestamp shapes found across platform
// transcripts: RFC 3339 strings (with or without sub-second precision or
// zone), naive "T"- or space-separated datetimes, bare dates, and epoch
// numbers whose unit is inferred from magnitude (seconds, milliseconds,
// microseconds, nanoseconds). Returns nil when the value is absent or
// unparseable. All results are UTC.
func ParseTimestamp(v any) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return parseTimestampString(t)
	case float64:
		return epochToTime(t)
	case int64:
		return epochToTime(float64(t))
	case int:
		return epochToTime(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil
		}
		return epochToTime(f)
	default:
		return nil
	}
}

func parseTimestampString(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			u := ts.UTC()
			return &u
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochToTime(f)
	}
	return nil
}

func epochToTime(f float64) *time.Time {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	var ts time.Time
	switch {
	case f < 1e11: // seconds, good through year 5138
		sec, frac := math.Modf(f)
		ts = time.Unix(int64(sec), int64(frac*1e9))
	case f < 1e14: // milliseconds
		ts = time.UnixMilli(int64(f))
	case f < 1e17: // microseconds
		ts = time.UnixMicro(int64(f))
	default: // nanoseconds
		ts = time.Unix(0, int64(f))
	}
	u := ts.UTC()
	return &u
}

// InWindow reports whether ts falls inside the inclusive [since, until]
// window. A nil bound is open on that side. A nil ts passes only the fully
// open window, so bounded scans never pick up undated sessions.
func InWindow(ts, since, until *time.Time) bool {
	if ts == nil {
		return since == nil && until == nil
	}
	if since != nil && ts.Before(*since) {
		return false
	}
	if until != nil && ts.After(*until) {
		return false
	}
	return true
}

// ReadJSONL parses path line by line, returning every line that decodes to a
// JSON object. Blank and malformed lines are skipped, not fatal; a transcript
// truncated mid-write still yields its intact prefix.
func ReadJSONL(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] != '{' {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		out = append(out, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return out, nil
}

// HashFile streams path through SHA-256 and returns the lowercase 64-hex
// digest. Content identity is byte identity; no normalization happens here.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hash: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the lowercase 64-hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// contentText flattens the content field shapes seen in transcripts: a plain
// string, or a list of typed blocks where text-bearing blocks carry "text".
func contentText(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, block := range c {
			m, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := m["text"].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

// truncateRunes shortens s to at most n runes, suffixing a marker when
// anything was cut.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// firstString returns the first non-empty string value among keys in obj.
func firstString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// intField reads a numeric field that may arrive as any JSON number shape.
func intField(obj map[string]any, key string) int64 {
	switch v := obj[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// compactJSON renders v as single-line JSON truncated for display, used for
// tool-call arguments in viewer output.
func compactJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return truncateRunes(string(b), snippetRunes)
}

// fileStem returns the filename without directory or extension; session
// native ids are file stems for file-backed platforms.
func fileStem(path string) string {
	name := path
	if i := strings.LastIndexAny(name, "/\\"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}
