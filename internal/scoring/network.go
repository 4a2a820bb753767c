package scoring

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// Network layer sizes: 20 inputs, two hidden layers, softmax over
// {not-fraud, fraud}
const (
	hiddenOneSize = 64
	hiddenTwoSize = 32
	outputSize    = 2

	// DefaultSeed makes fresh initialization reproducible
	DefaultSeed = 123
)

// Network is a feed-forward classifier over the fraud feature vector.
// Scoring is deterministic for a given weight state.
type Network struct {
	w1 *mat.Dense // hiddenOneSize x FeatureCount
	b1 []float64
	w2 *mat.Dense // hiddenTwoSize x hiddenOneSize
	b2 []float64
	w3 *mat.Dense // outputSize x hiddenTwoSize
	b3 []float64
}

// networkState is the gob-serializable form of the weights
type networkState struct {
	W1, W2, W3 []float64
	B1, B2, B3 []float64
}

// NewNetwork creates a freshly initialized network from the given seed
func NewNetwork(seed int64) *Network {
	rng := rand.New(rand.NewSource(seed))

	n := &Network{
		w1: initDense(rng, hiddenOneSize, FeatureCount),
		b1: make([]float64, hiddenOneSize),
		w2: initDense(rng, hiddenTwoSize, hiddenOneSize),
		b2: make([]float64, hiddenTwoSize),
		w3: initDense(rng, outputSize, hiddenTwoSize),
		b3: make([]float64, outputSize),
	}

	return n
}

// initDense draws He-scaled weights for a rows x cols layer
func initDense(rng *rand.Rand, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	scale := math.Sqrt(2.0 / float64(cols))
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
	return mat.NewDense(rows, cols, data)
}

// Predict runs a forward pass and returns the fraud-class probability
func (n *Network) Predict(features []float64) (float64, error) {
	if len(features) != FeatureCount {
		return 0, fmt.Errorf("expected %d features, got %d", FeatureCount, len(features))
	}

	_, _, out := n.forward(features)
	return out[1], nil
}

// forward returns the post-activation values of both hidden layers and
// the softmax output
func (n *Network) forward(features []float64) ([]float64, []float64, []float64) {
	x := mat.NewVecDense(FeatureCount, features)

	z1 := mat.NewVecDense(hiddenOneSize, nil)
	z1.MulVec(n.w1, x)
	a1 := make([]float64, hiddenOneSize)
	for i := range a1 {
		a1[i] = relu(z1.AtVec(i) + n.b1[i])
	}

	z2 := mat.NewVecDense(hiddenTwoSize, nil)
	z2.MulVec(n.w2, mat.NewVecDense(hiddenOneSize, a1))
	a2 := make([]float64, hiddenTwoSize)
	for i := range a2 {
		a2[i] = relu(z2.AtVec(i) + n.b2[i])
	}

	z3 := mat.NewVecDense(outputSize, nil)
	z3.MulVec(n.w3, mat.NewVecDense(hiddenTwoSize, a2))
	logits := make([]float64, outputSize)
	for i := range logits {
		logits[i] = z3.AtVec(i) + n.b3[i]
	}

	return a1, a2, softmax(logits)
}

// Train runs plain SGD with cross-entropy loss over the labeled samples.
// Labels are 0 (not fraud) or 1 (fraud).
func (n *Network) Train(features [][]float64, labels []int, epochs int, learningRate float64) error {
	if len(features) == 0 {
		return fmt.Errorf("empty training set")
	}
	if len(features) != len(labels) {
		return fmt.Errorf("feature/label length mismatch: %d vs %d", len(features), len(labels))
	}

	for epoch := 0; epoch < epochs; epoch++ {
		for s, sample := range features {
			if len(sample) != FeatureCount {
				return fmt.Errorf("sample %d: expected %d features, got %d", s, FeatureCount, len(sample))
			}

			a1, a2, out := n.forward(sample)

			// Output delta: softmax + cross-entropy
			delta3 := make([]float64, outputSize)
			copy(delta3, out)
			delta3[labels[s]] -= 1

			// Hidden layer 2 delta
			delta2 := make([]float64, hiddenTwoSize)
			for i := 0; i < hiddenTwoSize; i++ {
				if a2[i] <= 0 {
					continue
				}
				var sum float64
				for j := 0; j < outputSize; j++ {
					sum += n.w3.At(j, i) * delta3[j]
				}
				delta2[i] = sum
			}

			// Hidden layer 1 delta
			delta1 := make([]float64, hiddenOneSize)
			for i := 0; i < hiddenOneSize; i++ {
				if a1[i] <= 0 {
					continue
				}
				var sum float64
				for j := 0; j < hiddenTwoSize; j++ {
					sum += n.w2.At(j, i) * delta2[j]
				}
				delta1[i] = sum
			}

			n.applyGradients(n.w3, n.b3, delta3, a2, learningRate)
			n.applyGradients(n.w2, n.b2, delta2, a1, learningRate)
			n.applyGradients(n.w1, n.b1, delta1, sample, learningRate)
		}
	}

	return nil
}

func (n *Network) applyGradients(w *mat.Dense, b []float64, delta, input []float64, lr float64) {
	for i := range delta {
		if delta[i] == 0 {
			continue
		}
		for j := range input {
			w.Set(i, j, w.At(i, j)-lr*delta[i]*input[j])
		}
		b[i] -= lr * delta[i]
	}
}

// Save persists the network weights to path, creating parent directories
func (n *Network) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	defer f.Close()

	state := networkState{
		W1: append([]float64(nil), n.w1.RawMatrix().Data...),
		W2: append([]float64(nil), n.w2.RawMatrix().Data...),
		W3: append([]float64(nil), n.w3.RawMatrix().Data...),
		B1: n.b1,
		B2: n.b2,
		B3: n.b3,
	}

	if err := gob.NewEncoder(f).Encode(&state); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	return nil
}

// LoadNetwork restores a network from a saved weight file
func LoadNetwork(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var state networkState
	if err := gob.NewDecoder(f).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}

	if len(state.W1) != hiddenOneSize*FeatureCount ||
		len(state.W2) != hiddenTwoSize*hiddenOneSize ||
		len(state.W3) != outputSize*hiddenTwoSize {
		return nil, fmt.Errorf("model file has unexpected dimensions")
	}

	return &Network{
		w1: mat.NewDense(hiddenOneSize, FeatureCount, state.W1),
		b1: state.B1,
		w2: mat.NewDense(hiddenTwoSize, hiddenOneSize, state.W2),
		b2: state.B2,
		w3: mat.NewDense(outputSize, hiddenTwoSize, state.W3),
		b3: state.B3,
	}, nil
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}

	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}

	return out
}
