package config

import "time"

const (
	// MaxShardID is the largest valid 20-bit shard identifier (0xFFFFF).
	MaxShardID = 1<<20 - 1

	// HashSize is the length in bytes of a SHA-1 digest.
	HashSize = 20

	DefaultBaseURL      = "https://api.pwnedpasswords.com/range/"
	DefaultStateDBName  = "ipwned_state.sqlite"
	DefaultFilterName   = "ipwned_filter.rsqf"
	DefaultMaxAge       = "1mo"
	DefaultParallel     = 50
	DefaultMaxRetries   = 10
	DefaultMaxCount     = 1_000_000_000
	DefaultMaxErrorRate = 1e-7
	DefaultLogLevel     = "warn"

	HTTPClientTimeout = 30 * time.Second
	HTTPRetryWaitMin  = 500 * time.Millisecond
	HTTPRetryWaitMax  = 30 * time.Second

	FingerprintQuotientSeed  uint32 = 1337
	FingerprintRemainderSeed uint32 = 7331
)
