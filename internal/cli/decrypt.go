package cli

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/glaciertar/glaciertar/internal/config"
	"github.com/glaciertar/glaciertar/internal/statedb"
	"github.com/glaciertar/glaciertar/internal/workerpool"
)

func newDecryptCmd() *cobra.Command {
	var autoclean bool

	cmd := &cobra.Command{
		Use:   "decrypt [flags] db_filename tar_files_folder",
		Short: "Decrypt all downloaded TAR parts from a folder",
		Long: `Decrypts every ` + config.EncryptedFileExtension + ` file under tar_files_folder using the
key stored in the state database. The nonce is reconstructed from each
file's name, so parts must keep the name they were uploaded under.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbFilename, err := validateFileExists(args[0])
			if err != nil {
				return err
			}
			folders, err := validateFoldersExist(args[1:2])
			if err != nil {
				return err
			}
			folder := folders[0]

			db, err := statedb.Open(dbFilename, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			pool := workerpool.New(cmd.Context(), workerpool.Options{
				Workers:   config.DefaultNumUploadWorkers,
				Kind:      workerpool.KindDecrypt,
				Autoclean: autoclean,
				DB:        db,
			})

			walkErr := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.Type().IsRegular() && strings.HasSuffix(path, config.EncryptedFileExtension) {
					pool.Submit(path)
				}
				return nil
			})

			if err := pool.Close(); err != nil {
				return err
			}
			if walkErr != nil {
				return fmt.Errorf("failed to scan %q: %w", folder, walkErr)
			}
			log.Info().Msg("Done")
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoclean, "autoclean", true, "Remove encrypted TAR parts after they are decrypted")
	return cmd
}
