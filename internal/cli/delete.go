package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/glaciertar/glaciertar/internal/cloud"
	"github.com/glaciertar/glaciertar/internal/statedb"
)

func newDeleteCmd() *cobra.Command {
	var (
		bucket   string
		endpoint string
		all      bool
		files    []string
	)

	cmd := &cobra.Command{
		Use:   "delete [flags] db_filename",
		Short: "Delete uploaded TAR parts from remote S3 (cannot be undone)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbFilename, err := validateFileExists(args[0])
			if err != nil {
				return err
			}

			db, err := statedb.Open(dbFilename, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			client, err := cloud.New(cmd.Context(), cloud.Options{Bucket: bucket, Endpoint: endpoint})
			if err != nil {
				return err
			}

			targets := files
			if all {
				if !confirm("Are you sure you want to delete all backed up files " +
					"(the bucket itself must be deleted using the AWS Console)? (Y/n) ") {
					log.Info().Msg("Aborted as 'Y' input was not received!")
					return nil
				}
				targets, err = db.UploadedParts()
				if err != nil {
					return err
				}
			}

			for _, part := range targets {
				log.Info().Msgf("Trying to delete '%s'...", part)
				if err := client.Delete(cmd.Context(), part); err != nil {
					log.Error().Err(err).Msgf("Failed to delete file '%s'! "+
						"Please check that such a file and containing bucket exists.", part)
					continue
				}
				if err := db.DeleteWorkRecord(part); err != nil {
					return err
				}
				log.Info().Msgf("'%s' deleted!", part)
			}

			log.Info().Msg("Done")
			return nil
		},
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "S3 bucket to delete from")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Custom S3 endpoint URL")
	cmd.Flags().BoolVar(&all, "all", false, "Delete every backed up TAR part recorded in the state database")
	cmd.Flags().StringSliceVar(&files, "files", nil, "Specific backup TAR parts to delete")
	cobra.CheckErr(cmd.MarkFlagRequired("bucket"))
	cmd.MarkFlagsMutuallyExclusive("all", "files")
	cmd.MarkFlagsOneRequired("all", "files")
	return cmd
}

// confirm prompts on stdin and accepts only a literal "Y".
func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(answer) == "Y"
}
