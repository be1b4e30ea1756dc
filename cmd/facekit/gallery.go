package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dudu/facekit/internal/model"
)

var identifyThreshold float64

// identification is one face of an identify result
type identification struct {
	Index    int     `json:"index"`
	Name     string  `json:"name,omitempty"`
	Distance float64 `json:"distance,omitempty"`
	Known    bool    `json:"known"`
}

var enrollCmd = &cobra.Command{
	Use:   "enroll <name> <image>",
	Short: "Add the largest face of an image to the gallery under a name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := args[0], args[1]

		store, err := openGallery(cmd.Context())
		if err != nil {
			return err
		}
		p, err := openPipeline(detectorRole(), model.RoleLandmarks, model.RoleEncoder)
		if err != nil {
			return err
		}

		img, err := decodeImage(path)
		if err != nil {
			return err
		}
		faces, err := p.DetectAndEncode(img, algorithm)
		if err != nil {
			return err
		}
		f, ok := primaryFace(faces)
		if !ok {
			return fmt.Errorf("%s: no face found", path)
		}

		id, err := store.Enroll(cmd.Context(), name, f.Encoding)
		if err != nil {
			return fmt.Errorf("failed to enroll %s: %w", name, err)
		}
		log.WithFields(logrus.Fields{
			"id":    id,
			"name":  name,
			"faces": len(faces),
		}).Info("Identity enrolled")
		return nil
	},
}

var identifyCmd = &cobra.Command{
	Use:   "identify <image>",
	Short: "Match every face of an image against the gallery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openGallery(cmd.Context())
		if err != nil {
			return err
		}
		p, err := openPipeline(detectorRole(), model.RoleLandmarks, model.RoleEncoder)
		if err != nil {
			return err
		}

		img, err := decodeImage(args[0])
		if err != nil {
			return err
		}
		faces, err := p.DetectAndEncode(img, algorithm)
		if err != nil {
			return err
		}

		ids := make([]identification, len(faces))
		for i, f := range faces {
			m, ok, err := store.Identify(cmd.Context(), f.Encoding, identifyThreshold)
			if err != nil {
				return err
			}
			ids[i] = identification{Index: i, Known: ok}
			if ok {
				ids[i].Name, ids[i].Distance = m.Name, m.Distance
			}
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"file":  args[0],
			"faces": ids,
		})
	},
}

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "List enrolled identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openGallery(cmd.Context())
		if err != nil {
			return err
		}
		identities, err := store.List(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, i := range identities {
			fmt.Fprintf(out, "%4d  %-24s faces=%d  enrolled=%s\n",
				i.ID, i.Name, i.Count, i.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <name>",
	Short: "Remove an identity from the gallery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openGallery(cmd.Context())
		if err != nil {
			return err
		}
		if err := store.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		log.WithField("name", args[0]).Info("Identity removed")
		return nil
	},
}

func init() {
	identifyCmd.Flags().Float64VarP(&identifyThreshold, "threshold", "t", cfg.MatchThreshold, "Distance under which a face matches an identity")

	rootCmd.AddCommand(enrollCmd, identifyCmd, identitiesCmd, forgetCmd)
}
