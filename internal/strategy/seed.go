package strategy

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"go.uber.org/zap"
)

// seedEntry is the operator-facing seed file line.
type seedEntry struct {
	Pattern  string `json:"pattern"`
	Strategy string `json:"strategy"`
	Notes    string `json:"notes,omitempty"`
}

// loadSeed parses the seed file, skipping invalid lines with a warning. A
// missing file is an empty seed, not an error.
func loadSeed(path string, logger *zap.Logger) []Entry {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("opening seed file failed",
				zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var se seedEntry
		if err := json.Unmarshal([]byte(text), &se); err != nil {
			logger.Warn("skipping invalid seed line",
				zap.String("path", path), zap.Int("line", line), zap.Error(err))
			continue
		}
		if se.Pattern == "" || (se.Strategy != Native && se.Strategy != Enhanced) {
			logger.Warn("skipping invalid seed entry",
				zap.String("path", path), zap.Int("line", line),
				zap.String("pattern", se.Pattern), zap.String("strategy", se.Strategy))
			continue
		}
		out = append(out, Entry{
			Pattern:  se.Pattern,
			Strategy: se.Strategy,
			Notes:    se.Notes,
		})
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("reading seed file failed",
			zap.String("path", path), zap.Error(err))
	}
	return out
}
