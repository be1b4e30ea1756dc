package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dudu/facekit/internal/camera"
	"github.com/dudu/facekit/internal/gallery"
	"github.com/dudu/facekit/internal/model"
	"github.com/dudu/facekit/internal/ui"
)

const (
	// maxReadFailures stops watch when the camera keeps failing
	maxReadFailures = 30
	readRetryDelay  = 100 * time.Millisecond
)

var (
	watchFPS      int
	watchPreview  bool
	watchIdentify bool
	watchEvery    int
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Detect (and optionally identify) faces in camera frames",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var (
			roles []model.Role
			store *gallery.Store
		)
		preload := []model.Role{detectorRole(), model.RoleLandmarks}
		if watchIdentify {
			var err error
			if store, err = openGallery(ctx); err != nil {
				return err
			}
			roles = []model.Role{model.RoleEncoder}
			preload = append(preload, model.RoleEncoder)
		}
		p, err := openPipeline(preload...)
		if err != nil {
			return err
		}

		cam, err := camera.NewCapture(cfg.CameraID, watchFPS)
		if err != nil {
			return err
		}
		defer cam.Close()
		log.WithFields(logrus.Fields{
			"camera": cfg.CameraID,
			"width":  cam.Width(),
			"height": cam.Height(),
		}).Info("Camera opened")

		var window *ui.Window
		if watchPreview {
			window = ui.NewWindow("facekit")
			defer window.Close()
		}

		failures := 0
		for frame := 0; ctx.Err() == nil; frame++ {
			img, err := cam.Frame()
			if err != nil {
				failures++
				if failures >= maxReadFailures {
					return err
				}
				if !waitRetry(ctx, readRetryDelay) {
					return nil
				}
				continue
			}
			failures = 0

			faces, err := p.Analyze(img, algorithm, roles...)
			if err != nil {
				log.WithError(err).Warn("Failed to analyze frame")
				continue
			}

			overlays := make([]ui.Overlay, len(faces))
			for i, f := range faces {
				overlays[i] = ui.Overlay{Region: f.Region}
				if store == nil {
					continue
				}
				m, ok, err := store.Identify(ctx, f.Encoding, cfg.MatchThreshold)
				if err != nil {
					return err
				}
				overlays[i].Label = "unknown"
				if ok {
					overlays[i].Label = fmt.Sprintf("%s %.2f", m.Name, m.Distance)
				}
			}

			if watchEvery > 0 && frame%watchEvery == 0 {
				t := p.LastTiming()
				entry := log.WithFields(logrus.Fields{
					"frame": frame,
					"faces": len(faces),
					"total": t.Total,
				})
				for i, o := range overlays {
					if o.Label != "" {
						entry = entry.WithField(fmt.Sprintf("face%d", i), o.Label)
					}
				}
				entry.Info("Frame analyzed")
			}

			if window != nil {
				window.Show(cam.Mat(), overlays)
				// WaitKey must be called to process window events on macOS
				key := window.WaitKey(1)
				if key == 'q' || key == 27 { // 'q' or ESC
					return nil
				}
			}
		}
		return nil
	},
}

// waitRetry sleeps for d and reports false if ctx ends first
func waitRetry(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func init() {
	// OpenCV's highgui needs the main OS thread on macOS
	runtime.LockOSThread()

	watchCmd.Flags().IntVarP(&cfg.CameraID, "camera", "c", cfg.CameraID, "Camera device index")
	watchCmd.Flags().IntVar(&watchFPS, "fps", 30, "Target frames per second")
	watchCmd.Flags().BoolVarP(&watchPreview, "preview", "p", false, "Show a preview window")
	watchCmd.Flags().BoolVarP(&watchIdentify, "identify", "i", false, "Label faces with gallery identities")
	watchCmd.Flags().IntVar(&watchEvery, "log-every", 30, "Log a summary every N frames (0 disables)")

	rootCmd.AddCommand(watchCmd)
}
