// Package cli provides the glaciertar command-line interface.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/glaciertar/glaciertar/internal/logging"
)

var verbose bool

// NewRootCmd builds the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "glaciertar",
		Short: "Compress, encrypt, split and upload backups to S3 Glacier Deep Archive",
		Long: `glaciertar automates backing up directory trees to AWS S3 Glacier
Deep Archive: sources are streamed into a tar archive, split into
fixed-size parts, optionally compressed and encrypted, and uploaded by a
pool of workers. A state database records every step so an interrupted
backup resumes without re-uploading finished parts.

S3 credentials are discovered the standard way (~/.aws, environment).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Setup(verbose)
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.AddCommand(
		newBackupCmd(),
		newResumeCmd(),
		newShowCmd(),
		newDecryptCmd(),
		newSyncCmd(),
		newDeleteCmd(),
	)
	return rootCmd
}
