package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dudu/facekit/internal/model"
)

var (
	batchWorkers int
	batchEncode  bool
	batchAttrs   string
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Analyze every image under a directory, one JSON line per image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles, err := parseAttributes(batchAttrs)
		if err != nil {
			return err
		}
		if batchEncode {
			roles = append([]model.Role{model.RoleEncoder}, roles...)
		}
		if batchWorkers < 1 {
			batchWorkers = 1
		}

		files, err := listImages(args[0])
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no images found in %s", args[0])
		}

		// Load everything up front so workers never wait on the loader
		p, err := openPipeline(detectorRole(), model.RoleLandmarks)
		if err != nil {
			return err
		}
		if err := p.Load(roles...); err != nil {
			return err
		}

		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("Analyzing"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		var (
			outMu  sync.Mutex
			failed int
		)

		wp := workerpool.New(batchWorkers)
		for _, path := range files {
			if ctx.Err() != nil {
				break
			}
			wp.Submit(func() {
				if ctx.Err() != nil {
					return
				}

				r := result{File: path}
				img, err := decodeImage(path)
				if err == nil {
					r.Faces, err = p.Analyze(img, algorithm, roles...)
				}

				outMu.Lock()
				defer outMu.Unlock()
				if err != nil {
					r.Error = err.Error()
					failed++
					log.WithError(err).WithField("file", path).Warn("Failed to analyze image")
				}
				if err := writeJSON(out, r); err != nil {
					log.WithError(err).Error("Failed to write result")
				}
				bar.Add(1)
			})
		}
		wp.StopWait()
		bar.Finish()

		if err := ctx.Err(); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"images": len(files),
			"failed": failed,
		}).Info("Batch complete")
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", cfg.Workers, "Number of images analyzed concurrently")
	batchCmd.Flags().BoolVar(&batchEncode, "encode", true, "Include identity encodings")
	batchCmd.Flags().StringVar(&batchAttrs, "attrs", "", "Attributes to predict (age, gender, emotion, headpose)")

	rootCmd.AddCommand(batchCmd)
}
