package cli

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/glaciertar/glaciertar/internal/backup"
	"github.com/glaciertar/glaciertar/internal/statedb"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume db_filename",
		Short: "Resume backing up files from the last interrupted upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbFilename, err := validateFileExists(args[0])
			if err != nil {
				return err
			}

			log.Info().Msg("Trying to resume from last failed backup point...")
			opts, err := lastRunOptions(dbFilename)
			if err != nil {
				return err
			}
			return runBackup(cmd, opts)
		},
	}
}

// lastRunOptions loads the argument snapshot of the most recent run. The
// database is closed again before the backup reopens it, so the handle is
// never held twice.
func lastRunOptions(dbFilename string) (backup.Options, error) {
	db, err := statedb.Open(dbFilename, nil)
	if err != nil {
		return backup.Options{}, err
	}
	defer db.Close()

	blob, err := db.LastCmdArgs()
	if err != nil {
		return backup.Options{}, err
	}

	var opts backup.Options
	if err := json.Unmarshal(blob, &opts); err != nil {
		return backup.Options{}, fmt.Errorf("%w: malformed run arguments: %v", statedb.ErrCorruptDB, err)
	}
	opts.DBFilename = dbFilename
	return opts, nil
}
