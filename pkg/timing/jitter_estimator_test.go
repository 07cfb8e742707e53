// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJitterEstimator_ZeroBeforeAnyUpdate(t *testing.T) {
	j := NewJitterEstimator()
	assert.Equal(t, int64(0), j.GetJitterEstimate(ProtectionModeNack))
}

func TestJitterEstimator_StableFeedConverges(t *testing.T) {
	j := NewJitterEstimator()
	for i := 0; i < 500; i++ {
		j.Update(33, 10000)
	}
	// A constant frame size and constant delay should settle to a small,
	// non-negative jitter estimate with no RTT margin applied.
	assert.GreaterOrEqual(t, j.GetJitterEstimate(ProtectionModeNackFEC), int64(0))
}

func TestJitterEstimator_NackOnlyAddsRttMargin(t *testing.T) {
	nack := NewJitterEstimator()
	nackFEC := NewJitterEstimator()
	for i := 0; i < 50; i++ {
		nack.Update(33, 10000)
		nackFEC.Update(33, 10000)
	}
	nack.UpdateRTT(300)
	nackFEC.UpdateRTT(300)

	assert.Greater(t, nack.GetJitterEstimate(ProtectionModeNack), nackFEC.GetJitterEstimate(ProtectionModeNackFEC),
		"a NACK-only stream must fold in part of the RTT that a NACK+FEC stream does not need")
}

func TestJitterEstimator_Reset(t *testing.T) {
	j := NewJitterEstimator()
	for i := 0; i < 50; i++ {
		j.Update(33, 10000)
	}
	j.Reset()
	assert.Equal(t, int64(0), j.GetJitterEstimate(ProtectionModeNack))
}

func TestJitterEstimator_IgnoresNonPositiveFrameSize(t *testing.T) {
	j := NewJitterEstimator()
	j.Update(33, 0)
	j.Update(33, -5)
	assert.Equal(t, int64(0), j.GetJitterEstimate(ProtectionModeNack))
}
