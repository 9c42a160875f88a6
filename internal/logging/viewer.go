package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ANSI colors for level badges.
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

const followPollInterval = 250 * time.Millisecond

// LogEntry is one parsed line of the JSON log file.
type LogEntry struct {
	Time  time.Time
	Level string
	Msg   string
	Attrs map[string]any
	// Raw holds the original line when it did not parse as JSON.
	Raw string
}

// ViewerConfig filters and formats log output.
type ViewerConfig struct {
	// Level, when set, hides entries below it.
	Level string
	// Pattern, when set, keeps only entries whose formatted line matches.
	Pattern *regexp.Regexp
	// NoColor disables ANSI level colors.
	NoColor bool
}

// Viewer reads, filters, and formats knosid log files.
type Viewer struct {
	cfg ViewerConfig
	out io.Writer
}

// NewViewer creates a log viewer writing to out.
func NewViewer(cfg ViewerConfig, out io.Writer) *Viewer {
	return &Viewer{cfg: cfg, out: out}
}

// Tail returns the last n matching entries of the file.
func (v *Viewer) Tail(path string, n int) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry := parseEntry(scanner.Text())
		if !v.matches(entry) {
			continue
		}
		entries = append(entries, entry)
		if len(entries) > n {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Time.Before(entries[j].Time) })
	return entries, nil
}

// Follow streams new matching entries appended to the file until ctx
// is cancelled. Rotation is handled by reopening when the file shrinks.
func (v *Viewer) Follow(ctx context.Context, path string, entries chan<- LogEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(followPollInterval):
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() < offset {
			// Rotated underneath us
			_ = f.Close()
			if f, err = os.Open(path); err != nil {
				return err
			}
			reader = bufio.NewReader(f)
			offset = 0
		}

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				break
			}
			offset += int64(len(line))
			entry := parseEntry(strings.TrimRight(line, "\n"))
			if !v.matches(entry) {
				continue
			}
			select {
			case entries <- entry:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Print writes formatted entries to the viewer's output.
func (v *Viewer) Print(entries []LogEntry) {
	for _, e := range entries {
		fmt.Fprintln(v.out, v.FormatEntry(e))
	}
}

// FormatEntry renders one entry as a single aligned line.
func (v *Viewer) FormatEntry(e LogEntry) string {
	if e.Raw != "" {
		return e.Raw
	}

	var sb strings.Builder
	sb.WriteString(e.Time.Format("15:04:05.000"))
	sb.WriteString(" ")
	sb.WriteString(v.levelBadge(e.Level))
	sb.WriteString(" ")
	sb.WriteString(e.Msg)

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}
	return sb.String()
}

func (v *Viewer) levelBadge(level string) string {
	badge := fmt.Sprintf("%-5s", strings.ToUpper(level))
	if v.cfg.NoColor {
		return badge
	}
	switch strings.ToUpper(level) {
	case "DEBUG":
		return colorGray + badge + colorReset
	case "WARN":
		return colorYellow + badge + colorReset
	case "ERROR":
		return colorRed + badge + colorReset
	default:
		return badge
	}
}

func (v *Viewer) matches(e LogEntry) bool {
	if v.cfg.Level != "" && e.Raw == "" {
		if parseLevel(e.Level) < parseLevel(v.cfg.Level) {
			return false
		}
	}
	if v.cfg.Pattern != nil {
		plain := Viewer{cfg: ViewerConfig{NoColor: true}}
		if !v.cfg.Pattern.MatchString(plain.FormatEntry(e)) {
			return false
		}
	}
	return true
}

// parseEntry decodes one slog JSON line. Lines that are not JSON come
// back with Raw set so they still display.
func parseEntry(line string) LogEntry {
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return LogEntry{Raw: line}
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	for k, val := range fields {
		switch k {
		case slog.TimeKey:
			if s, ok := val.(string); ok {
				entry.Time, _ = time.Parse(time.RFC3339Nano, s)
			}
		case slog.LevelKey:
			entry.Level, _ = val.(string)
		case slog.MessageKey:
			entry.Msg, _ = val.(string)
		default:
			entry.Attrs[k] = val
		}
	}
	return entry
}
