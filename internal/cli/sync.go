package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/glaciertar/glaciertar/internal/cloud"
	"github.com/glaciertar/glaciertar/internal/statedb"
)

func newSyncCmd() *cobra.Command {
	var (
		bucket   string
		endpoint string
	)

	cmd := &cobra.Command{
		Use:   "sync [flags] db_filename",
		Short: "Sync the state database against the remote S3 bucket",
		Long: `Checks that every part marked uploaded still exists in the bucket and
marks missing ones failed, so a later resume re-uploads them.`,
		Args: cobra.ExactArgs(1),
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

			parts, err := db.UploadedParts()
			if err != nil {
				return err
			}
			for _, part := range parts {
				exists, err := client.Exists(cmd.Context(), part)
				if err != nil {
					return err
				}
				if !exists {
					log.Error().Msgf("'%s' was not found in S3 so its state changed to failed!", part)
					if err := db.RecordPartState(part, statedb.StatusFailed); err != nil {
						return err
					}
				}
			}

			log.Info().Msg("Done")
			return nil
		},
	}

	cmd.Flags().StringVar(&bucket, "bucket", "", "S3 bucket to sync against")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Custom S3 endpoint URL")
	cobra.CheckErr(cmd.MarkFlagRequired("bucket"))
	return cmd
}
