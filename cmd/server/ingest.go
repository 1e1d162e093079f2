package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var ingestDir string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Rebuild the document index from the docs directory and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, ragService, cleanup, err := openPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		dir := cfg.DocsDir
		if ingestDir != "" {
			dir = ingestDir
		}
		logrus.WithField("dir", dir).Info("Starting document ingestion")
		n, err := ragService.ReloadDocuments(cmd.Context(), dir)
		if err != nil {
			return err
		}
		logrus.Infof("Ingestion complete. Indexed %d chunks.", n)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "directory to ingest (defaults to DOCS_DIR)")
}
