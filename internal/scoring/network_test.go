package scoring

import (
	"math"
	"path/filepath"
	"testing"
)

func testFeatures(seed float64) []float64 {
	f := make([]float64, FeatureCount)
	for i := range f {
		f[i] = math.Mod(seed+float64(i)*0.13, 1)
	}
	return f
}

func TestNetworkPredictRange(t *testing.T) {
	n := NewNetwork(DefaultSeed)

	for i := 0; i < 20; i++ {
		score, err := n.Predict(testFeatures(float64(i) * 0.07))
		if err != nil {
			t.Fatalf("predict failed: %v", err)
		}
		if score < 0 || score > 1 {
			t.Errorf("score %f out of [0,1]", score)
		}
	}
}

func TestNetworkPredictDeterministic(t *testing.T) {
	a := NewNetwork(DefaultSeed)
	b := NewNetwork(DefaultSeed)

	features := testFeatures(0.42)

	scoreA, err := a.Predict(features)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	scoreB, err := b.Predict(features)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}

	if scoreA != scoreB {
		t.Errorf("same seed must give same prediction: %f vs %f", scoreA, scoreB)
	}

	// Repeated prediction on the same network is stable too
	again, _ := a.Predict(features)
	if again != scoreA {
		t.Errorf("prediction not stable: %f vs %f", again, scoreA)
	}
}

func TestNetworkPredictWrongWidth(t *testing.T) {
	n := NewNetwork(DefaultSeed)

	if _, err := n.Predict([]float64{1, 2, 3}); err == nil {
		t.Error("expected error for wrong feature width")
	}
}

func TestNetworkTrainShiftsPrediction(t *testing.T) {
	n := NewNetwork(DefaultSeed)

	fraud := testFeatures(0.9)
	before, _ := n.Predict(fraud)

	// Train exclusively on fraud labels for this vector
	features := [][]float64{fraud, fraud, fraud, fraud}
	labels := []int{1, 1, 1, 1}

	if err := n.Train(features, labels, 50, 0.05); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	after, _ := n.Predict(fraud)
	if after <= before {
		t.Errorf("training on fraud labels should raise the score: before %f, after %f", before, after)
	}
}

func TestNetworkTrainValidation(t *testing.T) {
	n := NewNetwork(DefaultSeed)

	if err := n.Train([][]float64{testFeatures(0.1)}, []int{1, 0}, 1, 0.01); err == nil {
		t.Error("expected error for mismatched features and labels")
	}
	if err := n.Train(nil, nil, 1, 0.01); err == nil {
		t.Error("expected error for empty training set")
	}
}

func TestNetworkSaveLoadRoundTrip(t *testing.T) {
	n := NewNetwork(DefaultSeed)
	path := filepath.Join(t.TempDir(), "models", "net.gob")

	if err := n.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadNetwork(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	features := testFeatures(0.33)
	want, _ := n.Predict(features)
	got, err := loaded.Predict(features)
	if err != nil {
		t.Fatalf("predict on loaded network failed: %v", err)
	}

	if got != want {
		t.Errorf("loaded network predicts %f, want %f", got, want)
	}
}

func TestLoadNetworkMissingFile(t *testing.T) {
	if _, err := LoadNetwork(filepath.Join(t.TempDir(), "missing.gob")); err == nil {
		t.Error("expected error for missing model file")
	}
}
