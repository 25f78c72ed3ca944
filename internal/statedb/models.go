package statedb

import "time"

// Status is the upload lifecycle state of a part. Every work row sharing a
// tar_file carries the same status: the part, not the file, is the unit of
// durability.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusStarted   Status = "started"
	StatusPackaged  Status = "packaged"
	StatusFailed    Status = "failed"
	StatusUploaded  Status = "uploaded"
)

// Work is one source file scheduled into a tar part.
type Work struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Datetime     time.Time `gorm:"column:datetime"`
	TarFile      string    `gorm:"column:tar_file;size:255;index"`
	Filename     string    `gorm:"column:filename;size:4096"`
	ModifiedTime int64     `gorm:"column:modified_time"`
	Size         int64     `gorm:"column:size"`
	Status       Status    `gorm:"column:status;size:16"`
}

// TableName implements the gorm table naming override.
func (Work) TableName() string { return "works" }

// Run is a snapshot of the effective command-line arguments of one
// invocation. The most recent row is what `resume` replays.
type Run struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Datetime    time.Time `gorm:"column:datetime"`
	CmdArgsJSON string    `gorm:"column:cmd_args_json;size:40960"`
}

// TableName implements the gorm table naming override.
func (Run) TableName() string { return "runs" }

// Secret holds the encryption key. At most one row ever exists and it is
// never rotated within a database.
type Secret struct {
	EncryptionKey string `gorm:"column:encryption_key;size:64"`
}

// TableName implements the gorm table naming override.
func (Secret) TableName() string { return "secrets" }

// CollatedRecord is one row of the collated `show` view: work rows grouped
// by their source path truncated a number of directory levels upward.
type CollatedRecord struct {
	FirstID  uint
	Datetime time.Time
	TarFiles []string
	Folder   string
	Uploaded bool
}
