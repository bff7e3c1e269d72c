// Package ensemble combines independent sub-model predictions into one
// threat score. Predictors register at startup; having none is a valid,
// untrained state.
package ensemble

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"netwarden/internal/model"
)

type Kind string

const (
	KindAnomaly    Kind = "anomaly"
	KindClassifier Kind = "classifier"
	KindNeural     Kind = "neural"
)

var kinds = []Kind{KindAnomaly, KindClassifier, KindNeural}

// Predictor is a pluggable sub-model. Anomaly predictors return a normality
// score where lower means more anomalous; the scorer inverts it.
type Predictor interface {
	Name() string
	Kind() Kind
	Predict(fv model.FeatureVector) (float64, error)
}

type Weights struct {
	Anomaly    float64
	Classifier float64
	Neural     float64
}

func DefaultWeights() Weights {
	return Weights{Anomaly: 0.3, Classifier: 0.4, Neural: 0.3}
}

func (w Weights) of(k Kind) float64 {
	switch k {
	case KindAnomaly:
		return w.Anomaly
	case KindClassifier:
		return w.Classifier
	case KindNeural:
		return w.Neural
	}
	return 0
}

func (w Weights) validate() error {
	if w.Anomaly < 0 || w.Classifier < 0 || w.Neural < 0 {
		return errors.New("ensemble weights must be non-negative")
	}
	if sum := w.Anomaly + w.Classifier + w.Neural; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("ensemble weights must sum to 1, got %.6f", sum)
	}
	return nil
}

const DefaultThreshold = 0.95

type Scorer struct {
	mu         sync.RWMutex
	predictors []Predictor
	weights    Weights
	threshold  float64
}

func New(weights Weights, threshold float64) (*Scorer, error) {
	s := &Scorer{}
	if err := s.Configure(weights, threshold); err != nil {
		return nil, err
	}
	return s, nil
}

// Configure swaps weights and threshold; scores in flight keep the old ones.
func (s *Scorer) Configure(weights Weights, threshold float64) error {
	if err := weights.validate(); err != nil {
		return err
	}
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("threat threshold must be in (0,1], got %v", threshold)
	}
	s.mu.Lock()
	s.weights = weights
	s.threshold = threshold
	s.mu.Unlock()
	return nil
}

func (s *Scorer) Register(p Predictor) error {
	if p == nil {
		return errors.New("nil predictor")
	}
	if !knownKind(p.Kind()) {
		return fmt.Errorf("predictor %s: unknown kind %q", p.Name(), p.Kind())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.predictors {
		if existing.Name() == p.Name() {
			return fmt.Errorf("predictor %s already registered", p.Name())
		}
	}
	s.predictors = append(s.predictors, p)
	return nil
}

func (s *Scorer) Unregister(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.predictors {
		if p.Name() == name {
			s.predictors = append(s.predictors[:i], s.predictors[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Scorer) Predictors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.predictors))
	for _, p := range s.predictors {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

// Score never blocks on model readiness and never returns values outside
// [0,1]. Any failing predictor degrades the whole result to a neutral 0.5
// with zero confidence.
func (s *Scorer) Score(fv model.FeatureVector) model.ScoreResult {
	s.mu.RLock()
	predictors := append([]Predictor(nil), s.predictors...)
	weights := s.weights
	threshold := s.threshold
	s.mu.RUnlock()

	if len(predictors) == 0 {
		return model.ScoreResult{Method: model.MethodUntrained}
	}

	sub := make(map[string]float64, len(predictors))
	sums := map[Kind]float64{}
	counts := map[Kind]int{}
	for _, p := range predictors {
		raw, err := predict(p, fv)
		if err != nil {
			return model.ScoreResult{
				Score:     0.5,
				Method:    model.MethodError,
				SubScores: sub,
				Error:     err.Error(),
			}
		}
		raw = clamp(raw)
		if p.Kind() == KindAnomaly {
			raw = 1 - raw
		}
		sub[p.Name()] = raw
		sums[p.Kind()] += raw
		counts[p.Kind()]++
	}

	var total, weightSum float64
	for _, kind := range kinds {
		n := counts[kind]
		if n == 0 {
			continue
		}
		w := weights.of(kind)
		total += w * sums[kind] / float64(n)
		weightSum += w
	}
	var score float64
	if weightSum > 0 {
		score = total / weightSum
	} else {
		var all float64
		for _, p := range predictors {
			all += sub[p.Name()]
		}
		score = all / float64(len(predictors))
	}
	score = clamp(score)

	res := model.ScoreResult{
		Score:     score,
		IsThreat:  score > threshold,
		SubScores: sub,
		Method:    model.MethodEnsemble,
	}
	if res.IsThreat {
		res.Confidence = math.Min(score/threshold, 1)
	} else {
		res.Confidence = 1 - score
	}
	res.Confidence = clamp(res.Confidence)
	return res
}

func predict(p Predictor, fv model.FeatureVector) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", model.ErrModelFailure, p.Name(), r)
		}
	}()
	v, err = p.Predict(fv)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", model.ErrModelFailure, p.Name(), err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s returned %v", model.ErrModelFailure, p.Name(), v)
	}
	return v, nil
}

func knownKind(k Kind) bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
