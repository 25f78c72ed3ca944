package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/glaciertar/glaciertar/internal/statedb"
)

func newShowCmd() *cobra.Command {
	var collate int

	cmd := &cobra.Command{
		Use:   "show [flags] db_filename",
		Short: "List state data from the state database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbFilename, err := validateFileExists(args[0])
			if err != nil {
				return err
			}
			if collate < 0 {
				return fmt.Errorf("--collate must be greater or equal to 0")
			}

			db, err := statedb.Open(dbFilename, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			table := tablewriter.NewWriter(os.Stdout)
			table.SetAutoWrapText(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
			table.SetAlignment(tablewriter.ALIGN_LEFT)

			if collate > 0 {
				records, err := db.CollatedWorkRecords(collate)
				if err != nil {
					return err
				}
				table.SetHeader([]string{"first_id", "datetime", "tar_file(s)", "folder", "uploaded"})
				for _, r := range records {
					table.Append([]string{
						strconv.FormatUint(uint64(r.FirstID), 10),
						prettyTime(r.Datetime),
						strings.Join(r.TarFiles, ", "),
						r.Folder,
						strconv.FormatBool(r.Uploaded),
					})
				}
			} else {
				works, err := db.WorkRecords()
				if err != nil {
					return err
				}
				table.SetHeader([]string{"id", "datetime", "tar_file", "filename", "modified_time", "size", "status"})
				for _, w := range works {
					table.Append([]string{
						strconv.FormatUint(uint64(w.ID), 10),
						prettyTime(w.Datetime),
						w.TarFile,
						w.Filename,
						prettyTime(time.Unix(w.ModifiedTime, 0)),
						prettySize(w.Size),
						string(w.Status),
					})
				}
			}

			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&collate, "collate", 0, "Collate level for the folders view")
	return cmd
}

// prettyTime renders a stored UTC timestamp in local time.
func prettyTime(t time.Time) string {
	return t.Local().Format("2006-01-02 03:04:05 PM MST")
}

// prettySize renders a byte count with a binary unit.
func prettySize(size int64) string {
	units := []string{"bytes", "KB", "MB", "GB", "TB", "PB"}
	value := float64(size)
	unit := units[0]
	for _, u := range units {
		unit = u
		if value < 1024.0 {
			break
		}
		if u != units[len(units)-1] {
			value /= 1024.0
		}
	}
	return fmt.Sprintf("%.1f %s", value, unit)
}
