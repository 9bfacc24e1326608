// Package transcript locates, parses, and ingests session transcripts.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ParsedUtterance is one transcript line before persistence.
type ParsedUtterance struct {
	Speaker    string
	StartMS    int64
	EndMS      int64
	Text       string
	SpeakerRaw string
}

// Source is a located transcript file.
type Source struct {
	Format string `json:"format"`
	Path   string `json:"path"`
}

// FindSource locates the transcript for a session directory. It prefers
// transcript.jsonl, then transcript.txt, then falls back to the largest
// file of either suffix for pre-migration layouts.
func FindSource(sessionDir string) (Source, error) {
	preferred := []Source{
		{Format: "jsonl", Path: filepath.Join(sessionDir, "transcript.jsonl")},
		{Format: "txt", Path: filepath.Join(sessionDir, "transcript.txt")},
	}
	for _, src := range preferred {
		if _, err := os.Stat(src.Path); err == nil {
			return src, nil
		}
	}

	for _, format := range []string{"jsonl", "txt"} {
		matches, err := filepath.Glob(filepath.Join(sessionDir, "*."+format))
		if err != nil {
			return Source{}, err
		}
		if len(matches) == 0 {
			continue
		}
		sort.Slice(matches, func(i, j int) bool {
			fi, errI := os.Stat(matches[i])
			fj, errJ := os.Stat(matches[j])
			if errI != nil || errJ != nil {
				return matches[i] < matches[j]
			}
			if fi.Size() != fj.Size() {
				return fi.Size() > fj.Size()
			}
			return fi.ModTime().After(fj.ModTime())
		})
		return Source{Format: format, Path: matches[0]}, nil
	}
	return Source{}, fmt.Errorf("no transcript found in %s", sessionDir)
}

// Parse reads a transcript file, dispatching on suffix.
func Parse(path string) ([]ParsedUtterance, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return ParseJSONL(path)
	case ".txt":
		return ParseTxt(path)
	case ".srt":
		return ParseSRT(path)
	}
	return nil, fmt.Errorf("unsupported transcript format: %s", path)
}

type jsonlLine struct {
	Speaker    string   `json:"speaker"`
	SpeakerRaw string   `json:"speaker_raw"`
	Start      *float64 `json:"start"`
	End        *float64 `json:"end"`
	Text       string   `json:"text"`
}

// ParseJSONL parses one utterance per line with start/end in seconds.
func ParseJSONL(path string) ([]ParsedUtterance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	var out []ParsedUtterance
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var payload jsonlLine
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			return nil, fmt.Errorf("invalid JSONL at line %d: %w", lineNo, err)
		}
		if payload.Start == nil || payload.End == nil {
			return nil, fmt.Errorf("missing start/end in JSONL line %d", lineNo)
		}
		speaker := strings.TrimSpace(payload.Speaker)
		if speaker == "" {
			speaker = "unknown"
		}
		out = append(out, ParsedUtterance{
			Speaker:    speaker,
			StartMS:    toMS(*payload.Start),
			EndMS:      toMS(*payload.End),
			Text:       strings.TrimSpace(payload.Text),
			SpeakerRaw: payload.SpeakerRaw,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return out, nil
}

var txtLineRe = regexp.MustCompile(`^(.+?)\s+(\d{2}:\d{2}:\d{2})\s+(.+)$`)

// ParseTxt parses "Speaker HH:MM:SS text" lines. End times are inferred
// from the next utterance's start.
func ParseTxt(path string) ([]ParsedUtterance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	var out []ParsedUtterance
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m := txtLineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("invalid transcript line: %s", line)
		}
		startMS, err := parseTimecode(m[2])
		if err != nil {
			return nil, err
		}
		speaker := strings.TrimSpace(m[1])
		if speaker == "" {
			speaker = "unknown"
		}
		out = append(out, ParsedUtterance{
			Speaker: speaker,
			StartMS: startMS,
			EndMS:   startMS,
			Text:    strings.TrimSpace(m[3]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	for i := range out {
		if i < len(out)-1 {
			next := out[i+1].StartMS
			if next > out[i].StartMS {
				out[i].EndMS = next
			}
		}
	}
	return out, nil
}

var srtTimeRe = regexp.MustCompile(`(\d{2}:\d{2}:\d{2},\d{3})\s+-->\s+(\d{2}:\d{2}:\d{2},\d{3})`)

// ParseSRT parses SubRip blocks. SRT has no speaker labels.
func ParseSRT(path string) ([]ParsedUtterance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer f.Close()

	var out []ParsedUtterance
	var block []string
	flush := func() error {
		defer func() { block = nil }()
		if len(block) < 2 {
			return nil
		}
		m := srtTimeRe.FindStringSubmatch(block[1])
		if m == nil {
			return nil
		}
		startMS, err := parseSRTTimecode(m[1])
		if err != nil {
			return err
		}
		endMS, err := parseSRTTimecode(m[2])
		if err != nil {
			return err
		}
		var parts []string
		for _, t := range block[2:] {
			if s := strings.TrimSpace(t); s != "" {
				parts = append(parts, s)
			}
		}
		out = append(out, ParsedUtterance{
			Speaker: "unknown",
			StartMS: startMS,
			EndMS:   endMS,
			Text:    strings.Join(parts, " "),
		})
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func toMS(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}

func parseTimecode(token string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(token), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp: %s", token)
	}
	var vals [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp: %s", token)
		}
		vals[i] = n
	}
	return ((vals[0]*60+vals[1])*60 + vals[2]) * 1000, nil
}

func parseSRTTimecode(token string) (int64, error) {
	token = strings.TrimSpace(token)
	comma := strings.LastIndex(token, ",")
	if comma < 0 {
		return 0, fmt.Errorf("invalid SRT timestamp: %s", token)
	}
	base, err := parseTimecode(token[:comma])
	if err != nil {
		return 0, fmt.Errorf("invalid SRT timestamp: %s", token)
	}
	millis, err := strconv.ParseInt(token[comma+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid SRT timestamp: %s", token)
	}
	return base + millis, nil
}
