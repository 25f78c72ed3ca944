// Package config holds the defaults and fixed settings shared by every
// glaciertar subcommand. Values here are compile-time constants in the same
// spirit as a settings file: anything an operator can override lives on the
// CLI surface instead.
package config

import "time"

// Upload defaults.
const (
	// DefaultNumUploadWorkers is the number of concurrent upload workers.
	DefaultNumUploadWorkers = 5

	// DefaultSplitSize is the part split threshold in gigabytes
	// (interpreted as megabytes under --test-run).
	DefaultSplitSize = 100

	// NumWorksProduceAhead is how many finalized parts may sit on disk
	// beyond the worker count before the producer blocks.
	NumWorksProduceAhead = 3

	// RetryWaitMin and RetryWaitMax bound the uniformly-random backoff
	// between upload retry attempts.
	RetryWaitMin = 30 * time.Minute
	RetryWaitMax = 180 * time.Minute
)

// Packaging defaults.
const (
	// BufferMemSize is the I/O buffer size used when writing part files.
	BufferMemSize = 512 * 1024 * 1024

	// EncryptedFileExtension is appended to part names when encryption is on.
	EncryptedFileExtension = ".chacha20"
)

// StateDBFilenameTemplate is the time.Format layout for new state database
// filenames, keyed by the run's start time.
const StateDBFilenameTemplate = "20060102-150405_backup_statedb.sqlite3"

// Logging defaults for the rotating file sink.
const (
	LogDir        = "logs"
	LogFilename   = "glaciertar.log"
	MaxLogSizeMB  = 10
	LogNumBackups = 8
)

// CompressionTypes lists the accepted values for --compression.
var CompressionTypes = []string{"gz", "bz2", "xz"}

// IgnoreDirs are directory names skipped entirely during the source walk.
var IgnoreDirs = map[string]bool{
	"lost+found":                true,
	"node_modules":              true,
	".venv":                     true,
	"__pycache__":               true,
	".git":                      true,
	".DS_Store":                 true,
	"@eaDir":                    true,
	".Spotlight-V100":           true,
	".Trashes":                  true,
	".fseventsd":                true,
	".DocumentRevisions-V100":   true,
	".TemporaryItems":           true,
	"#recycle":                  true,
	"System Volume Information": true,
}

// IgnoreFiles are file names skipped during the source walk.
var IgnoreFiles = map[string]bool{
	"desktop.ini": true,
	"Thumbs.db":   true,
}

// MBToBytes converts a size in megabytes to bytes.
func MBToBytes(mb int64) int64 {
	return mb * 1024 * 1024
}

// GBToBytes converts a size in gigabytes to bytes.
func GBToBytes(gb int64) int64 {
	return MBToBytes(gb) * 1024
}
