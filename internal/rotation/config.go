package rotation

import (
	"errors"
	"fmt"
)

// EvictionPolicy decides what a rotation does when the oldest file cannot
// be removed.
type EvictionPolicy int

const (
	// EvictBestEffort logs the failure and rotates anyway. The window may then
	// hold one file more than MaxFiles until a later eviction succeeds.
	EvictBestEffort EvictionPolicy = iota
	// EvictStrict fails the write with ErrEvictionFailed and keeps the state.
	EvictStrict
)

func (p EvictionPolicy) String() string {
	switch p {
	case EvictBestEffort:
		return "best_effort"
	case EvictStrict:
		return "strict"
	default:
		return fmt.Sprintf("EvictionPolicy(%d)", int(p))
	}
}

// ParseEvictionPolicy maps the config spelling to a policy.
func ParseEvictionPolicy(s string) (EvictionPolicy, error) {
	switch s {
	case "", "best_effort":
		return EvictBestEffort, nil
	case "strict":
		return EvictStrict, nil
	default:
		return 0, fmt.Errorf("rotation: unknown eviction policy %q", s)
	}
}

// Config holds the tunables of a rotation window.
type Config struct {
	// MaxFiles bounds the number of live log files.
	MaxFiles int
	// MaxFileSize is the size at which the newest file is rotated.
	MaxFileSize int
	// FilePrefix and FileExtension surround the 3-digit file id.
	FilePrefix    string
	FileExtension string
	// MetadataFile carries the four rotation attributes.
	MetadataFile string
	// Delimiter terminates every record.
	Delimiter byte
	// DecodeBufferSize caps the payload of a replayed record.
	DecodeBufferSize int
	Eviction         EvictionPolicy
}

// DefaultConfig returns the stock window: 3 files of 4 KiB named log000.txt
// through log002.txt, '/'-delimited records and a 128-byte decode buffer.
func DefaultConfig() Config {
	return Config{
		MaxFiles:         3,
		MaxFileSize:      4096,
		FilePrefix:       "log",
		FileExtension:    ".txt",
		MetadataFile:     "rotation.txt",
		Delimiter:        '/',
		DecodeBufferSize: 128,
		Eviction:         EvictBestEffort,
	}
}

func (c Config) validate() error {
	switch {
	case c.MaxFiles < 1 || c.MaxFiles > 1000:
		return errors.New("rotation: MaxFiles must be between 1 and 1000")
	case c.MaxFileSize < 2:
		return errors.New("rotation: MaxFileSize must be at least 2")
	case c.MetadataFile == "":
		return errors.New("rotation: MetadataFile must not be empty")
	case c.DecodeBufferSize < 1:
		return errors.New("rotation: DecodeBufferSize must be at least 1")
	case c.Eviction != EvictBestEffort && c.Eviction != EvictStrict:
		return fmt.Errorf("rotation: invalid eviction policy %d", int(c.Eviction))
	}
	return nil
}
