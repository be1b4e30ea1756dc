package attribute

import (
	"fmt"

	"github.com/dudu/facekit/internal/imagebuf"
	"github.com/dudu/facekit/internal/inference"
	"github.com/dudu/facekit/internal/model"
)

// Output tables
var (
	AgeBuckets    = []string{"0-2", "4-6", "8-12", "15-20", "25-32", "38-43", "48-53", "60-100"}
	GenderLabels  = []string{"male", "female"}
	EmotionLabels = []string{"neutral", "happiness", "surprise", "sadness", "anger", "disgust", "fear", "contempt"}
)

// caffe-converted googlenet: BGR, mean subtracted, unscaled
var googlenetNorm = imagebuf.Normalization{
	Mean:   [3]float32{104, 117, 123},
	Std:    [3]float32{1, 1, 1},
	SwapRB: true,
}

// ImageNet statistics on 0-255 pixels
var imagenetNorm = imagebuf.Normalization{
	Mean: [3]float32{0.485 * 255, 0.456 * 255, 0.406 * 255},
	Std:  [3]float32{0.229 * 255, 0.224 * 255, 0.225 * 255},
}

// Head pose bins: 66 bins of 3 degrees starting at -99
const (
	poseBins     = 66
	poseBinWidth = 3
	poseOffset   = -99
)

func init() {
	register(variant{
		role:   model.RoleAge,
		io:     inference.IO{Inputs: []string{"input"}, Outputs: []string{"loss3/loss3_Y"}},
		size:   224,
		norm:   googlenetNorm,
		kind:   KindBucket,
		labels: AgeBuckets,
		decode: decodeTable,
	})
	register(variant{
		role:   model.RoleGender,
		io:     inference.IO{Inputs: []string{"input"}, Outputs: []string{"loss3/loss3_Y"}},
		size:   224,
		norm:   googlenetNorm,
		kind:   KindLabel,
		labels: GenderLabels,
		decode: decodeTable,
	})
	register(variant{
		role:   model.RoleEmotion,
		io:     inference.IO{Inputs: []string{"Input3"}, Outputs: []string{"Plus692_Output_0"}},
		size:   64,
		gray:   true,
		norm:   imagebuf.Uniform(0, 1),
		kind:   KindLabel,
		labels: EmotionLabels,
		decode: decodeTable,
	})
	register(variant{
		role:   model.RoleHeadPose,
		io:     inference.IO{Inputs: []string{"input"}, Outputs: []string{"yaw", "pitch", "roll"}},
		size:   64,
		norm:   imagenetNorm,
		kind:   KindAngles,
		decode: decodeAngles,
	})
}

// NewAge wraps a loaded age network
func NewAge(h *model.RunnerHandle) *Classifier {
	return &Classifier{handle: h, v: variants[model.RoleAge]}
}

// NewGender wraps a loaded gender network
func NewGender(h *model.RunnerHandle) *Classifier {
	return &Classifier{handle: h, v: variants[model.RoleGender]}
}

// NewEmotion wraps a loaded emotion network
func NewEmotion(h *model.RunnerHandle) *Classifier {
	return &Classifier{handle: h, v: variants[model.RoleEmotion]}
}

// NewHeadPose wraps a loaded head pose network
func NewHeadPose(h *model.RunnerHandle) *Classifier {
	return &Classifier{handle: h, v: variants[model.RoleHeadPose]}
}

// decodeAngles reads yaw, pitch and roll. Each output is either the angle in
// degrees or a 66-bin distribution whose expectation is the angle.
func decodeAngles(_ *Classifier, outputs []inference.Tensor) (Prediction, error) {
	var angles [3]float32
	for i := range angles {
		v, err := angle(outputs[i].Data)
		if err != nil {
			return Prediction{}, fmt.Errorf("output %d: %w", i, err)
		}
		angles[i] = v
	}
	return Prediction{
		Index:      -1,
		Confidence: 1,
		Angles:     &Angles{Yaw: angles[0], Pitch: angles[1], Roll: angles[2]},
	}, nil
}

func angle(data []float32) (float32, error) {
	switch len(data) {
	case 1:
		return data[0], nil
	case poseBins:
		var deg float32
		for i, p := range softmax(data) {
			deg += p * float32(i)
		}
		return deg*poseBinWidth + poseOffset, nil
	}
	return 0, fmt.Errorf("expected 1 or %d values, got %d", poseBins, len(data))
}
