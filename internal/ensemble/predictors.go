package ensemble

import (
	"math"

	"netwarden/internal/features"
	"netwarden/internal/model"
)

// Builtin returns reference heuristics for deployments without trained
// models. They are opt-in; a scorer with nothing registered stays untrained.
func Builtin() []Predictor {
	return []Predictor{RateAnomaly{}, PortProfile{}, Logistic{}}
}

// RateAnomaly is an anomaly-style predictor: it reports normality, high for
// quiet traffic and falling toward zero as rates climb.
type RateAnomaly struct{}

func (RateAnomaly) Name() string { return "rate_anomaly" }
func (RateAnomaly) Kind() Kind   { return KindAnomaly }

func (RateAnomaly) Predict(fv model.FeatureVector) (float64, error) {
	pkt := fv[model.FeatPacketRate] / 500
	bytes := fv[model.FeatByteRate] / 5e6
	conns := fv[model.FeatConnCount] / 200
	return math.Exp(-(pkt + bytes + conns)), nil
}

type PortProfile struct{}

func (PortProfile) Name() string { return "port_profile" }
func (PortProfile) Kind() Kind   { return KindClassifier }

func (PortProfile) Predict(fv model.FeatureVector) (float64, error) {
	var p float64
	dst := int(fv[model.FeatDstPort])
	if features.SensitivePort(dst) {
		p += 0.3
		if fv[model.FeatSrcPort] > 1024 {
			p += 0.2
		}
	}
	if fv[model.FeatConnCount] > 100 {
		p += 0.3
	}
	if fv[model.FeatPacketRate] > 1000 {
		p += 0.2
	}
	return math.Min(p, 1), nil
}

// Logistic is a fixed-weight logistic model over log-scaled volume features.
type Logistic struct{}

func (Logistic) Name() string { return "logistic" }
func (Logistic) Kind() Kind   { return KindNeural }

var logisticWeights = [model.FeatureCount]float64{
	model.FeatSize:          0.05,
	model.FeatConnCount:     0.6,
	model.FeatBytesSent:     0.1,
	model.FeatBytesReceived: 0.05,
	model.FeatPacketRate:    0.5,
	model.FeatByteRate:      0.15,
}

const logisticBias = -6.0

func (Logistic) Predict(fv model.FeatureVector) (float64, error) {
	z := logisticBias
	for i, w := range logisticWeights {
		if w == 0 {
			continue
		}
		z += w * math.Log1p(math.Max(fv[i], 0))
	}
	return 1 / (1 + math.Exp(-z)), nil
}
