package builder

import (
	"path/filepath"
	"time"

	"ipwned/config"
	"ipwned/internal/duration"
)

// Config holds everything the builder needs for one run, matching the
// option table in the spec exactly.
type Config struct {
	BasePath     string
	StateDBName  string
	FilterName   string
	MaxAge       string
	Parallel     int
	Start        uint32
	End          uint32
	MaxCount     uint64
	MaxErrorRate float64
	BaseURL      string
	MaxRetries   int
	Log          string
}

// Default returns a Config populated with the spec's documented defaults.
func Default() Config {
	return Config{
		StateDBName:  config.DefaultStateDBName,
		FilterName:   config.DefaultFilterName,
		MaxAge:       config.DefaultMaxAge,
		Parallel:     config.DefaultParallel,
		Start:        0,
		End:          config.MaxShardID,
		MaxCount:     config.DefaultMaxCount,
		MaxErrorRate: config.DefaultMaxErrorRate,
		BaseURL:      config.DefaultBaseURL,
		MaxRetries:   config.DefaultMaxRetries,
		Log:          config.DefaultLogLevel,
	}
}

func (c Config) statePath() string  { return filepath.Join(c.BasePath, c.StateDBName) }
func (c Config) filterPath() string { return filepath.Join(c.BasePath, c.FilterName) }

func (c Config) maxAgeDuration() (time.Duration, error) {
	return duration.Parse(c.MaxAge)
}
