// Package pipeline is the facade over every face-analysis stage. It owns the
// model bundle, loads each role on first use and releases everything it
// acquired, in reverse order, on Close.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dudu/facekit/internal/attribute"
	"github.com/dudu/facekit/internal/detector"
	"github.com/dudu/facekit/internal/encoder"
	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
	"github.com/dudu/facekit/internal/inference"
	"github.com/dudu/facekit/internal/landmark"
	"github.com/dudu/facekit/internal/model"
)

// DefaultPreload lists the roles loaded when the facade opens
var DefaultPreload = []model.Role{
	model.RoleDetector,
	model.RoleCascade,
	model.RoleLandmarks,
	model.RoleEncoder,
}

// Config holds pipeline configuration
type Config struct {
	ModelsDir string
	// Files overrides the bundle file name per role
	Files map[model.Role]string
	// Preload lists roles loaded eagerly; nil means DefaultPreload
	Preload []model.Role

	Detection detector.Config

	// Inference runtime
	LibraryPath string
	Threads     int
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithLogger sets the log entry the facade and its stages write to
func WithLogger(log *logrus.Entry) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// WithLoader replaces the ONNX Runtime loader
func WithLoader(loader inference.Loader) Option {
	return func(p *Pipeline) {
		p.loader = loader
	}
}

// Face is one analyzed face
type Face struct {
	Region     face.Region                     `json:"region"`
	Landmarks  face.Landmarks                  `json:"landmarks,omitempty"`
	Encoding   encoder.Encoding                `json:"encoding,omitempty"`
	Attributes map[string]attribute.Prediction `json:"attributes,omitempty"`
}

// Timing holds performance timing information
type Timing struct {
	Detection  time.Duration
	Landmarks  time.Duration
	Encoding   time.Duration
	Attributes time.Duration
	Total      time.Duration
	Faces      int
}

type acquired struct {
	role  model.Role
	stage stage
}

// Pipeline orchestrates the analysis stages
type Pipeline struct {
	id     string
	config Config
	log    *logrus.Entry
	bundle *model.Bundle
	loader inference.Loader

	mu          sync.Mutex
	closed      bool
	cascade     FaceDetector
	scrfd       FaceDetector
	landmarks   LandmarkPredictor
	encoder     FaceEncoder
	classifiers map[model.Role]AttributeClassifier
	acquired    []acquired
	lastTiming  Timing
}

// Open resolves the model bundle and eagerly loads the preload roles. A
// role that fails to load is logged and stays unavailable until a later
// call loads it; the other roles are unaffected.
func Open(config Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		id:          uuid.NewString(),
		config:      config,
		classifiers: make(map[model.Role]AttributeClassifier),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logrus.NewEntry(logrus.StandardLogger())
	}
	p.log = p.log.WithField("session", p.id)
	if p.loader == nil {
		p.loader = inference.ONNXLoader{LibraryPath: config.LibraryPath, Threads: config.Threads}
	}
	if p.config.Detection == (detector.Config{}) {
		p.config.Detection = detector.DefaultConfig()
	}

	bundle, err := model.OpenBundle(config.ModelsDir, config.Files)
	if err != nil {
		return nil, err
	}
	p.bundle = bundle

	preload := config.Preload
	if preload == nil {
		preload = DefaultPreload
	}

	p.mu.Lock()
	for _, role := range preload {
		// failures are logged inside loadLocked
		_ = p.loadLocked(role)
	}
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"models": bundle.Dir(),
		"loaded": len(p.acquired),
	}).Info("Pipeline opened")

	return p, nil
}

// ID returns the session id carried in every log line of the facade
func (p *Pipeline) ID() string {
	return p.id
}

// Load loads the given roles now. Roles already loaded are skipped; every
// failure is returned joined.
func (p *Pipeline) Load(roles ...model.Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("%w: pipeline closed", face.ErrUseAfterRelease)
	}

	var errs []error
	for _, role := range roles {
		if err := p.loadLocked(role); err != nil {
			errs = append(errs, unavailable(role, err))
		}
	}
	return errors.Join(errs...)
}

// Loaded reports whether a role currently holds a live handle
func (p *Pipeline) Loaded(role model.Role) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.loadedLocked(role)
}

func (p *Pipeline) loadedLocked(role model.Role) bool {
	switch role {
	case model.RoleCascade:
		return p.cascade != nil
	case model.RoleDetector:
		return p.scrfd != nil
	case model.RoleLandmarks:
		return p.landmarks != nil
	case model.RoleEncoder:
		return p.encoder != nil
	}
	_, ok := p.classifiers[role]
	return ok
}

// loadLocked acquires role unless it is already held. Failures are not
// remembered, so the next call retries.
func (p *Pipeline) loadLocked(role model.Role) error {
	if p.loadedLocked(role) {
		return nil
	}

	log := p.log.WithFields(logrus.Fields{
		"role": role.String(),
		"file": p.bundle.Path(role),
	})
	start := time.Now()

	var (
		s   stage
		err error
	)
	switch role {
	case model.RoleCascade:
		var c *detector.Cascade
		if c, err = detector.LoadCascade(p.bundle, p.config.Detection); err == nil {
			p.cascade, s = c, c
		}
	case model.RoleDetector:
		var d *detector.SCRFD
		if d, err = detector.LoadSCRFD(p.bundle, p.loader, p.config.Detection); err == nil {
			p.scrfd, s = d, d
		}
	case model.RoleLandmarks:
		var l *landmark.Predictor
		if l, err = landmark.Load(p.bundle, p.loader); err == nil {
			p.landmarks, s = l, l
		}
	case model.RoleEncoder:
		var e *encoder.ArcFaceEncoder
		if e, err = encoder.Load(p.bundle, p.loader); err == nil {
			p.encoder, s = e, e
		}
	default:
		var c *attribute.Classifier
		if c, err = attribute.Load(p.bundle, p.loader, role); err == nil {
			p.classifiers[role], s = c, c
		}
	}

	if err != nil {
		log.WithError(err).Warn("Failed to load model")
		return err
	}

	p.acquired = append(p.acquired, acquired{role: role, stage: s})
	log.WithField("elapsed", time.Since(start)).Debug("Model loaded")
	return nil
}

// unavailable reports a role that could not be loaded. The error matches
// both face.ErrModelNotLoaded and the underlying load error.
func unavailable(role model.Role, err error) error {
	return fmt.Errorf("%w: %s: %w", face.ErrModelNotLoaded, role, err)
}

// acquire returns the stage for role, loading it on first use
func (p *Pipeline) acquire(role model.Role) (stage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("%w: pipeline closed", face.ErrUseAfterRelease)
	}
	if err := p.loadLocked(role); err != nil {
		return nil, unavailable(role, err)
	}

	switch role {
	case model.RoleCascade:
		return p.cascade, nil
	case model.RoleDetector:
		return p.scrfd, nil
	case model.RoleLandmarks:
		return p.landmarks, nil
	case model.RoleEncoder:
		return p.encoder, nil
	}
	return p.classifiers[role], nil
}

func (p *Pipeline) detectorFor(algo detector.Algorithm) (FaceDetector, error) {
	role := model.RoleDetector
	switch algo {
	case detector.AlgorithmFast:
		role = model.RoleCascade
	case detector.AlgorithmCNN:
	default:
		return nil, fmt.Errorf("unknown detection algorithm %v", algo)
	}
	s, err := p.acquire(role)
	if err != nil {
		return nil, err
	}
	return s.(FaceDetector), nil
}

// DetectFaces locates faces with the chosen algorithm. Regions are in the
// pixel frame of img; no face yields an empty slice.
func (p *Pipeline) DetectFaces(img *imagebuf.Buffer, algo detector.Algorithm) ([]face.Region, error) {
	d, err := p.detectorFor(algo)
	if err != nil {
		return nil, err
	}
	return d.Detect(img)
}

// PredictLandmarks returns the 106 landmarks of the face inside region
func (p *Pipeline) PredictLandmarks(img *imagebuf.Buffer, region face.Region) (face.Landmarks, error) {
	s, err := p.acquire(model.RoleLandmarks)
	if err != nil {
		return nil, err
	}
	return s.(LandmarkPredictor).Predict(img, region)
}

// EncodeFace computes the identity encoding of the face described by landmarks
func (p *Pipeline) EncodeFace(img *imagebuf.Buffer, landmarks face.Landmarks) (encoder.Encoding, error) {
	s, err := p.acquire(model.RoleEncoder)
	if err != nil {
		return nil, err
	}
	return s.(FaceEncoder).Encode(img, landmarks)
}

// CompareEncodings returns the Euclidean distance between two encodings
func (p *Pipeline) CompareEncodings(a, b encoder.Encoding) (float64, error) {
	return encoder.Compare(a, b)
}

// PredictAttribute runs the classifier of an attribute role
func (p *Pipeline) PredictAttribute(role model.Role, img *imagebuf.Buffer, region face.Region, landmarks *face.Landmarks) (attribute.Prediction, error) {
	if !role.Attribute() {
		return attribute.Prediction{}, fmt.Errorf("%s is not an attribute role", role)
	}
	s, err := p.acquire(role)
	if err != nil {
		return attribute.Prediction{}, err
	}
	return s.(AttributeClassifier).Predict(img, region, landmarks)
}

// PredictAge classifies the age bucket of a face
func (p *Pipeline) PredictAge(img *imagebuf.Buffer, region face.Region, landmarks *face.Landmarks) (attribute.Prediction, error) {
	return p.PredictAttribute(model.RoleAge, img, region, landmarks)
}

// PredictGender classifies the gender of a face
func (p *Pipeline) PredictGender(img *imagebuf.Buffer, region face.Region, landmarks *face.Landmarks) (attribute.Prediction, error) {
	return p.PredictAttribute(model.RoleGender, img, region, landmarks)
}

// PredictEmotion classifies the expression of a face
func (p *Pipeline) PredictEmotion(img *imagebuf.Buffer, region face.Region, landmarks *face.Landmarks) (attribute.Prediction, error) {
	return p.PredictAttribute(model.RoleEmotion, img, region, landmarks)
}

// PredictHeadPose estimates yaw, pitch and roll of a face
func (p *Pipeline) PredictHeadPose(img *imagebuf.Buffer, region face.Region, landmarks *face.Landmarks) (attribute.Prediction, error) {
	return p.PredictAttribute(model.RoleHeadPose, img, region, landmarks)
}

// DetectAndEncode detects every face and computes its landmarks and encoding
func (p *Pipeline) DetectAndEncode(img *imagebuf.Buffer, algo detector.Algorithm) ([]Face, error) {
	return p.Analyze(img, algo, model.RoleEncoder)
}

// Analyze detects every face, predicts its landmarks and fills in the
// requested roles: RoleEncoder for the encoding and any attribute role.
func (p *Pipeline) Analyze(img *imagebuf.Buffer, algo detector.Algorithm, roles ...model.Role) ([]Face, error) {
	for _, role := range roles {
		if role != model.RoleEncoder && !role.Attribute() {
			return nil, fmt.Errorf("cannot analyze with %s", role)
		}
	}

	totalStart := time.Now()
	var timing Timing

	// Detect faces
	detectStart := time.Now()
	regions, err := p.DetectFaces(img, algo)
	timing.Detection = time.Since(detectStart)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	faces := make([]Face, 0, len(regions))
	for _, region := range regions {
		f := Face{Region: region}

		landmarkStart := time.Now()
		f.Landmarks, err = p.PredictLandmarks(img, region)
		timing.Landmarks += time.Since(landmarkStart)
		if err != nil {
			return nil, fmt.Errorf("landmark prediction failed: %w", err)
		}

		for _, role := range roles {
			if role == model.RoleEncoder {
				encodeStart := time.Now()
				f.Encoding, err = p.EncodeFace(img, f.Landmarks)
				timing.Encoding += time.Since(encodeStart)
				if err != nil {
					return nil, fmt.Errorf("encoding failed: %w", err)
				}
				continue
			}

			attrStart := time.Now()
			pred, err := p.PredictAttribute(role, img, region, &f.Landmarks)
			timing.Attributes += time.Since(attrStart)
			if err != nil {
				return nil, fmt.Errorf("%s prediction failed: %w", role, err)
			}
			if f.Attributes == nil {
				f.Attributes = make(map[string]attribute.Prediction)
			}
			f.Attributes[role.String()] = pred
		}

		faces = append(faces, f)
	}

	timing.Total = time.Since(totalStart)
	timing.Faces = len(faces)

	p.mu.Lock()
	p.lastTiming = timing
	p.mu.Unlock()

	return faces, nil
}

// LastTiming returns timing from last Analyze call
func (p *Pipeline) LastTiming() Timing {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTiming
}

// Close releases every acquired model in reverse acquisition order. Calling
// it again is a no-op; later operations fail with face.ErrUseAfterRelease.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for i := len(p.acquired) - 1; i >= 0; i-- {
		a := p.acquired[i]
		if err := a.stage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.role, err))
		}
	}

	p.acquired = nil
	p.cascade, p.scrfd, p.landmarks, p.encoder = nil, nil, nil, nil
	clear(p.classifiers)

	if err := errors.Join(errs...); err != nil {
		p.log.WithError(err).Error("Pipeline closed with errors")
		return err
	}
	p.log.Debug("Pipeline closed")
	return nil
}
