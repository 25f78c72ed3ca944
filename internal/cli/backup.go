package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/glaciertar/glaciertar/internal/backup"
	"github.com/glaciertar/glaciertar/internal/cloud"
	"github.com/glaciertar/glaciertar/internal/config"
)

func newBackupCmd() *cobra.Command {
	var (
		srcDirs     []string
		splitSize   int64
		bucket      string
		numWorkers  int
		compression string
		encrypt     bool
		autoclean   bool
		testRun     bool
		endpoint    string
		accessKey   string
		secretKey   string
	)

	cmd := &cobra.Command{
		Use:   "backup [flags] output_filename_template",
		Short: "Backup files to AWS S3 Glacier Deep Archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			template, err := validateOutputTemplate(args[0])
			if err != nil {
				return err
			}
			dirs, err := validateFoldersExist(srcDirs)
			if err != nil {
				return err
			}
			compression = strings.ToLower(compression)
			if compression == "none" {
				compression = ""
			}
			if err := validateCompression(compression, config.CompressionTypes); err != nil {
				return err
			}

			dbFilename, err := abspath(time.Now().Format(config.StateDBFilenameTemplate))
			if err != nil {
				return err
			}
			log.Info().Msgf("Recording backup state in '%s'...", dbFilename)

			opts := backup.Options{
				DBFilename:       dbFilename,
				SrcDirs:          dirs,
				OutputTemplate:   template,
				SplitSize:        splitSize,
				Bucket:           bucket,
				NumUploadWorkers: numWorkers,
				Compression:      compression,
				Encrypt:          encrypt,
				Autoclean:        autoclean,
				TestRun:          testRun,
				Endpoint:         endpoint,
				AccessKeyID:      accessKey,
				SecretAccessKey:  secretKey,
			}
			return runBackup(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&srcDirs, "src-dirs", nil, "One or more source directories to backup")
	cmd.Flags().Int64Var(&splitSize, "split-size", config.DefaultSplitSize, "Split size in gigabytes (megabytes if --test-run)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "S3 bucket to upload to")
	cmd.Flags().IntVar(&numWorkers, "num-upload-workers", config.DefaultNumUploadWorkers, "Number of upload workers")
	cmd.Flags().StringVar(&compression, "compression", "", "Compression for the TAR parts (gz, bz2, xz); empty for none")
	cmd.Flags().BoolVar(&encrypt, "encrypt", true, "Encrypt parts with ChaCha20; the key is kept in the state database")
	cmd.Flags().BoolVar(&autoclean, "autoclean", true, "Remove generated TAR parts after they are uploaded")
	cmd.Flags().BoolVar(&testRun, "test-run", false, "Target a local Minio-style server; skips the Deep Archive storage class")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Custom S3 endpoint URL (for --test-run servers)")
	cmd.Flags().StringVar(&accessKey, "access-key", "", "Static S3 access key (for --test-run servers)")
	cmd.Flags().StringVar(&secretKey, "secret-key", "", "Static S3 secret key (for --test-run servers)")
	cobra.CheckErr(cmd.MarkFlagRequired("src-dirs"))
	cobra.CheckErr(cmd.MarkFlagRequired("bucket"))

	return cmd
}

// runBackup wires the object-store client and hands off to the orchestrator.
// Shared by backup and resume.
func runBackup(cmd *cobra.Command, opts backup.Options) error {
	client, err := cloud.New(cmd.Context(), cloud.Options{
		Bucket:          opts.Bucket,
		Endpoint:        opts.Endpoint,
		TestRun:         opts.TestRun,
		AccessKeyID:     opts.AccessKeyID,
		SecretAccessKey: opts.SecretAccessKey,
	})
	if err != nil {
		return err
	}
	if err := backup.Run(cmd.Context(), client, opts); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	log.Info().Msg("Done")
	return nil
}
