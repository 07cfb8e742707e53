// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMovingMedianFilter_Basic(t *testing.T) {
	f := NewMovingMedianFilter(5)
	for _, v := range []int64{5, 1, 3, 2, 4} {
		f.Insert(v)
	}
	assert.Equal(t, int64(3), f.GetFilteredValue())
	assert.Equal(t, 5, f.StoredSampleCount())
}

func TestMovingMedianFilter_EvictsOldestBeyondWindow(t *testing.T) {
	f := NewMovingMedianFilter(3)
	for _, v := range []int64{100, 100, 100} {
		f.Insert(v)
	}
	assert.Equal(t, int64(100), f.GetFilteredValue())

	// Leaves the window at [100, 1, 1], evicting the first two 100s.
	f.Insert(1)
	f.Insert(1)
	assert.Equal(t, 3, f.StoredSampleCount(), "window size must stay bounded")
	assert.Equal(t, int64(1), f.GetFilteredValue())
}

func TestMovingMedianFilter_Reset(t *testing.T) {
	f := NewMovingMedianFilter(5)
	f.Insert(10)
	f.Insert(20)
	f.Reset()
	assert.Equal(t, 0, f.StoredSampleCount())
	assert.Equal(t, int64(0), f.GetFilteredValue())
}
