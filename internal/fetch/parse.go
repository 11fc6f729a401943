package fetch

import (
	"encoding/hex"

	"ipwned/config"
)

// ParseShard decodes a shard response body of lines "SUFFIX:COUNT\r\n" into
// full 20-byte hashes, reconstructing each from the shard's 5-hex prefix
// and the line's 35-hex suffix. Lines that don't match the expected shape
// are skipped; skipped returns how many were dropped so callers can log a
// single summary warning instead of one line per bad line.
func ParseShard(prefix uint32, body []byte) (hashes [][config.HashSize]byte, skipped int, err error) {
	prefixHex := []byte(hexPrefix(prefix))

	start := 0
	for start <= len(body) {
		end := start
		for end < len(body) && body[end] != '\n' {
			end++
		}
		line := body[start:end]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		start = end + 1

		if len(line) == 0 {
			if end >= len(body) {
				break
			}
			continue
		}

		if h, ok := parseLine(prefixHex, line); ok {
			hashes = append(hashes, h)
		} else {
			skipped++
		}

		if end >= len(body) {
			break
		}
	}

	return hashes, skipped, nil
}

func hexPrefix(prefix uint32) string {
	const hexDigits = "0123456789ABCDEF"
	buf := [5]byte{}
	for i := 4; i >= 0; i-- {
		buf[i] = hexDigits[prefix&0xF]
		prefix >>= 4
	}
	return string(buf[:])
}

// parseLine parses one "SUFFIX:COUNT" line. SUFFIX must be exactly 35 hex
// characters; COUNT must be one or more decimal digits (its value is
// ignored — the filter never tracks prevalence counts).
func parseLine(prefixHex []byte, line []byte) (h [config.HashSize]byte, ok bool) {
	colon := -1
	for i, c := range line {
		if c == ':' {
			colon = i
			break
		}
	}
	if colon != 35 {
		return h, false
	}

	suffix := line[:colon]
	count := line[colon+1:]
	if len(count) == 0 {
		return h, false
	}
	for _, c := range count {
		if c < '0' || c > '9' {
			return h, false
		}
	}

	var full [40]byte
	copy(full[:5], prefixHex)
	copy(full[5:], suffix)

	var decoded [20]byte
	if _, err := hex.Decode(decoded[:], full[:]); err != nil {
		return h, false
	}

	return decoded, true
}
