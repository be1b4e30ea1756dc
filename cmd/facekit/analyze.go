package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dudu/facekit/internal/encoder"
	"github.com/dudu/facekit/internal/model"
	"github.com/dudu/facekit/internal/pipeline"
)

var (
	compareThreshold float64
	attrList         string
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Print the face regions found in an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(detectorRole())
		if err != nil {
			return err
		}
		img, err := decodeImage(args[0])
		if err != nil {
			return err
		}

		regions, err := p.DetectFaces(img, algorithm)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), regionsResult{File: args[0], Regions: regions})
	},
}

var landmarksCmd = &cobra.Command{
	Use:   "landmarks <image>",
	Short: "Print the regions and 106-point landmarks of every face",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(cmd, args[0], nil, detectorRole(), model.RoleLandmarks)
	},
}

var encodeCmd = &cobra.Command{
	Use:   "encode <image>",
	Short: "Print the identity encoding of every face",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(cmd, args[0], []model.Role{model.RoleEncoder},
			detectorRole(), model.RoleLandmarks, model.RoleEncoder)
	},
}

var attributesCmd = &cobra.Command{
	Use:   "attributes <image>",
	Short: "Print age, gender, emotion and head pose of every face",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles, err := parseAttributes(attrList)
		if err != nil {
			return err
		}
		return runAnalyze(cmd, args[0], roles, detectorRole(), model.RoleLandmarks)
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <imageA> <imageB>",
	Short: "Compare the largest face of two images",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(detectorRole(), model.RoleLandmarks, model.RoleEncoder)
		if err != nil {
			return err
		}

		var encodings [2]encoder.Encoding
		for i, path := range args {
			img, err := decodeImage(path)
			if err != nil {
				return err
			}
			faces, err := p.DetectAndEncode(img, algorithm)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			f, ok := primaryFace(faces)
			if !ok {
				return fmt.Errorf("%s: no face found", path)
			}
			encodings[i] = f.Encoding
		}

		distance, err := p.CompareEncodings(encodings[0], encodings[1])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"distance":   distance,
			"similarity": encoder.CosineSimilarity(encodings[0], encodings[1]),
			"threshold":  compareThreshold,
			"match":      distance < compareThreshold,
		})
	},
}

// runAnalyze decodes path, analyzes it with roles and prints one result line
func runAnalyze(cmd *cobra.Command, path string, roles []model.Role, preload ...model.Role) error {
	p, err := openPipeline(preload...)
	if err != nil {
		return err
	}
	img, err := decodeImage(path)
	if err != nil {
		return err
	}

	faces, err := p.Analyze(img, algorithm, roles...)
	if err != nil {
		return err
	}
	logTiming(p.LastTiming())
	return writeJSON(cmd.OutOrStdout(), result{File: path, Faces: faces})
}

func logTiming(t pipeline.Timing) {
	log.WithFields(logrus.Fields{
		"faces":      t.Faces,
		"detection":  t.Detection,
		"landmarks":  t.Landmarks,
		"encoding":   t.Encoding,
		"attributes": t.Attributes,
		"total":      t.Total,
	}).Debug("Analyzed image")
}

// parseAttributes reads a comma separated attribute list
func parseAttributes(list string) ([]model.Role, error) {
	roles, err := model.ParseRoles(list)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		if !role.Attribute() {
			return nil, fmt.Errorf("%s is not an attribute (use age, gender, emotion, headpose)", role)
		}
	}
	return roles, nil
}

func init() {
	compareCmd.Flags().Float64VarP(&compareThreshold, "threshold", "t", cfg.MatchThreshold, "Distance under which the faces match (lower is stricter)")
	attributesCmd.Flags().StringVar(&attrList, "attrs", "age,gender,emotion,headpose", "Attributes to predict")

	rootCmd.AddCommand(detectCmd, landmarksCmd, encodeCmd, compareCmd, attributesCmd)
}
