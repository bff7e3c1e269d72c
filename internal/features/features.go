// Package features maps events onto the fixed-schema vector every scorer reads.
package features

import (
	"math"

	"netwarden/internal/model"
)

// Variant flags occupy the last slot so models can tell the event shapes apart.
const (
	VariantUnknown = 0
	VariantFlow    = 1
	VariantAuth    = 2
	VariantTLS     = 3
	VariantDevice  = 4
)

var sensitivePorts = map[int]struct{}{22: {}, 80: {}, 443: {}, 445: {}, 3389: {}}

// SensitivePort reports whether port is a commonly attacked service port.
func SensitivePort(port int) bool {
	_, ok := sensitivePorts[port]
	return ok
}

// Extract never fails. Fields an event does not carry stay zero, as do
// negative or non-finite values.
func Extract(ev model.NetworkEvent) model.FeatureVector {
	var fv model.FeatureVector
	fv[model.FeatSize] = clean(float64(ev.Size))
	fv[model.FeatSrcPort] = clean(float64(ev.SrcPort))
	fv[model.FeatDstPort] = clean(float64(ev.DstPort))
	fv[model.FeatProtocol] = clean(float64(ev.Protocol))

	switch ev.Kind {
	case model.KindFlow:
		fv[model.FeatVariant] = VariantFlow
		if f := ev.Flow; f != nil {
			fv[model.FeatConnCount] = clean(f.ConnCount)
			fv[model.FeatBytesSent] = clean(f.BytesSent)
			fv[model.FeatBytesReceived] = clean(f.BytesReceived)
			fv[model.FeatPacketRate] = clean(f.PacketRate)
			fv[model.FeatByteRate] = clean(f.ByteRate)
		}
	case model.KindAuthFrame:
		fv[model.FeatVariant] = VariantAuth
	case model.KindTLSHandshake:
		fv[model.FeatVariant] = VariantTLS
		if ev.TLS != nil && fv[model.FeatSize] == 0 {
			fv[model.FeatSize] = float64(len(ev.TLS.Record))
		}
	case model.KindDeviceSighting:
		fv[model.FeatVariant] = VariantDevice
	}
	return fv
}

func clean(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
