package scoring

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/paytech/fraud-detection/configs"
)

// ModelScorer produces a fraud probability in [0,1] from a feature
// vector. Implementations must be deterministic for a given model state
// so a test double can stand in for the network.
type ModelScorer interface {
	Score(ctx context.Context, features []float64) (float64, error)
	Version() string
}

// NeutralScore is returned when the model cannot produce a probability
const NeutralScore = 0.5

const trainEpochs = 10
const trainLearningRate = 0.01

// NeuralScorer scores with the feed-forward network, loading weights
// from disk when available
type NeuralScorer struct {
	mu      sync.RWMutex
	network *Network
	cfg     configs.ModelConfig
	version string
}

// NewNeuralScorer loads the model from cfg.Path, falling back to a
// freshly seeded network when no file exists
func NewNeuralScorer(cfg configs.ModelConfig) *NeuralScorer {
	scorer := &NeuralScorer{cfg: cfg, version: "ffn-v1"}

	network, err := LoadNetwork(cfg.Path)
	switch {
	case err == nil:
		log.Info().Str("path", cfg.Path).Msg("Fraud model loaded")
	case os.IsNotExist(err):
		log.Info().Str("path", cfg.Path).Msg("No saved model, initializing fresh network")
		network = NewNetwork(DefaultSeed)
	default:
		log.Error().Err(err).Str("path", cfg.Path).Msg("Failed to load model, initializing fresh network")
		network = NewNetwork(DefaultSeed)
	}

	scorer.network = network
	return scorer
}

// Score returns the fraud probability for the feature vector. Internal
// failures yield the neutral score rather than an error so the pipeline
// can always combine.
func (s *NeuralScorer) Score(ctx context.Context, features []float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return NeutralScore, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := s.network.Predict(features)
	if err != nil {
		log.Warn().Err(err).Msg("Model prediction failed, returning neutral score")
		return NeutralScore, nil
	}

	return p, nil
}

// Version returns the model version tag
func (s *NeuralScorer) Version() string {
	return s.version
}

// Train fits the network on labeled samples and persists the updated
// weights. Scoring is blocked for the duration of the weight swap only.
func (s *NeuralScorer) Train(features [][]float64, labels []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.network.Train(features, labels, trainEpochs, trainLearningRate); err != nil {
		return err
	}

	if err := s.network.Save(s.cfg.Path); err != nil {
		log.Error().Err(err).Str("path", s.cfg.Path).Msg("Failed to persist trained model")
		return err
	}

	log.Info().Int("samples", len(features)).Str("path", s.cfg.Path).Msg("Fraud model trained and saved")
	return nil
}
