package lib

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/treesum/treesum/internal/treesum/logger"
	"github.com/treesum/treesum/internal/treesum/types"
)

// Line grammar of the result log. The failure pattern is tried first
// because an error message is free text and could otherwise shadow the
// success pattern's hash field.
var (
	failureLineRe = regexp.MustCompile(`^(.+?) = ERROR\(([A-Za-z]+)\): (.*), size: (\d+)$`)
	successLineRe = regexp.MustCompile(`^(.+?) = ([0-9a-f]+), size: (\d+)$`)
)

// streamingReplayThreshold switches replay from a whole-file read to a
// buffered line scanner, bounding memory for very large logs.
const streamingReplayThreshold = 8 << 20 // 8 MiB

// maxReplayLine bounds a single scanned line. Paths plus a message fit
// comfortably; anything longer is corrupt.
const maxReplayLine = 1 << 20

// ReplayResult is the parsed state of an existing result log. Processed
// and Failed are keyed by path; a later entry for the same path wins, so
// a file that failed in one run and succeeded in the next counts as
// processed.
type ReplayResult struct {
	Processed map[string]types.LogEntry
	Failed    map[string]types.LogEntry

	Lines          int   // total non-comment, non-blank lines seen
	Skipped        int   // lines that matched neither grammar
	ProcessedBytes int64 // sum of sizes of processed entries
}

// LoadExisting parses a result log top to bottom and returns the resume
// state. Blank lines and '#' comments are ignored; unparseable lines are
// counted, logged, and skipped rather than aborting the replay, since a
// crash can leave one torn line at the tail.
func LoadExisting(path string, log logger.Logger) (*ReplayResult, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = logger.Component(log, "result-log")

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	res := &ReplayResult{
		Processed: make(map[string]types.LogEntry),
		Failed:    make(map[string]types.LogEntry),
	}

	if info.Size() >= streamingReplayThreshold {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64<<10), maxReplayLine)
		for scanner.Scan() {
			res.addLine(scanner.Text(), log)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return res, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(content), "\n") {
		res.addLine(line, log)
	}
	return res, nil
}

// addLine parses one log line into the result maps.
func (r *ReplayResult) addLine(line string, log logger.Logger) {
	line = strings.TrimRight(line, "\r")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return
	}
	r.Lines++

	if m := failureLineRe.FindStringSubmatch(line); m != nil {
		size, _ := strconv.ParseInt(m[4], 10, 64)
		category, known := types.ParseCategory(m[2])
		if !known {
			log.Debug("unknown error category in log, treating as Unknown", "category", m[2])
		}
		entry := types.LogEntry{
			Path:          m[1],
			Size:          size,
			ErrorCategory: category,
			ErrorMessage:  m[3],
		}
		r.Failed[entry.Path] = entry
		delete(r.Processed, entry.Path)
		return
	}

	if m := successLineRe.FindStringSubmatch(line); m != nil {
		size, _ := strconv.ParseInt(m[3], 10, 64)
		entry := types.LogEntry{
			Path:    m[1],
			Success: true,
			Hash:    m[2],
			Size:    size,
		}
		if _, seen := r.Processed[entry.Path]; !seen {
			r.ProcessedBytes += entry.Size
		}
		r.Processed[entry.Path] = entry
		delete(r.Failed, entry.Path)
		return
	}

	r.Skipped++
	log.Warn("skipping unparseable log line", "line", line)
}
