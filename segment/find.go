package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/gobwas/glob"

	"github.com/quiverdb/translog/internal/logging"
)

// FileName returns the canonical path for a generation's log file.
func FileName(dir string, gen int64) string {
	return filepath.Join(dir, fmt.Sprintf("translog-%d.tlog", gen))
}

// generationGlob is a cheap first-pass filter applied before the
// anchored regex does the real parsing; it avoids running the regex
// against every unrelated file in a shard's translog directory.
var generationGlob = glob.MustCompile("translog-*")

// generationPattern parses a generation filename: the
// (\.recovering|\.tlog)? suffix is optional and both spellings are
// tolerated, since a ".recovering" file can be left behind by an
// interrupted commit.
var generationPattern = regexp.MustCompile(`^translog-(\d+)(\.recovering|\.tlog)?$`)

// ParseGeneration extracts the generation id from a base filename, or
// ok=false if it doesn't match the translog naming convention at all.
func ParseGeneration(baseName string) (gen int64, ok bool) {
	if !generationGlob.Match(baseName) {
		return 0, false
	}
	m := generationPattern.FindStringSubmatch(baseName)
	if m == nil {
		return 0, false
	}
	var g int64
	if _, err := fmt.Sscanf(m[1], "%d", &g); err != nil {
		return 0, false
	}
	return g, true
}

// Found is one generation file located by a directory scan.
type Found struct {
	Path string
	Gen  int64
}

// FindGenerations scans dir for every file matching the translog naming
// convention and returns them sorted by generation ascending.
func FindGenerations(dir string) ([]Found, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("translog: reading directory %s: %w", dir, err)
	}
	var out []Found
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		gen, ok := ParseGeneration(e.Name())
		if !ok {
			continue
		}
		logging.Debug("translog: found generation file %s (gen=%d)", e.Name(), gen)
		out = append(out, Found{Path: filepath.Join(dir, e.Name()), Gen: gen})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Gen < out[j].Gen })
	return out, nil
}
