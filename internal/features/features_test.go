package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"netwarden/internal/model"
)

func TestExtractFlow(t *testing.T) {
	ev := model.NetworkEvent{
		Kind:     model.KindFlow,
		Size:     1500,
		SrcPort:  51000,
		DstPort:  443,
		Protocol: 6,
		Flow: &model.FlowInfo{
			ConnCount:     12,
			BytesSent:     4096,
			BytesReceived: 8192,
			PacketRate:    60,
			ByteRate:      90000,
		},
	}
	fv := Extract(ev)
	assert.Equal(t, model.FeatureVector{1500, 51000, 443, 6, 12, 4096, 8192, 60, 90000, VariantFlow}, fv)
}

func TestExtractMissingFieldsDefaultToZero(t *testing.T) {
	fv := Extract(model.NetworkEvent{Kind: model.KindFlow})
	for i := 0; i < model.FeatVariant; i++ {
		assert.Zero(t, fv[i], "slot %d", i)
	}
	assert.Equal(t, float64(VariantFlow), fv[model.FeatVariant])

	assert.Equal(t, model.FeatureVector{}, Extract(model.NetworkEvent{}))
}

func TestExtractScrubsInvalidValues(t *testing.T) {
	fv := Extract(model.NetworkEvent{
		Kind:    model.KindFlow,
		SrcPort: -1,
		Flow:    &model.FlowInfo{PacketRate: math.NaN(), ByteRate: math.Inf(1), ConnCount: -3},
	})
	assert.Zero(t, fv[model.FeatSrcPort])
	assert.Zero(t, fv[model.FeatPacketRate])
	assert.Zero(t, fv[model.FeatByteRate])
	assert.Zero(t, fv[model.FeatConnCount])
}

func TestExtractVariants(t *testing.T) {
	tls := Extract(model.NetworkEvent{Kind: model.KindTLSHandshake, TLS: &model.TLSInfo{Record: []byte{0x16, 0x03, 0x01}}})
	assert.Equal(t, float64(VariantTLS), tls[model.FeatVariant])
	assert.Equal(t, 3.0, tls[model.FeatSize])

	auth := Extract(model.NetworkEvent{Kind: model.KindAuthFrame, Auth: &model.AuthInfo{Subtype: "auth"}})
	assert.Equal(t, float64(VariantAuth), auth[model.FeatVariant])

	dev := Extract(model.NetworkEvent{Kind: model.KindDeviceSighting, Device: &model.DeviceInfo{Ports: []int{80}}})
	assert.Equal(t, float64(VariantDevice), dev[model.FeatVariant])
}
