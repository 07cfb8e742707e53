// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAheadOf16(t *testing.T) {
	assert.True(t, AheadOf16(1, 0))
	assert.False(t, AheadOf16(0, 0))
	assert.True(t, AheadOf16(0, 0xFFFF))
	assert.False(t, AheadOf16(0xFFFF, 0))

	// Exact half distance: numerically larger wins.
	assert.True(t, AheadOf16(0x8000, 0))
	assert.False(t, AheadOf16(0, 0x8000))
}

func TestSeqNumUnwrapperWrap(t *testing.T) {
	var u SeqNumUnwrapper
	assert.Equal(t, int64(65534), u.Unwrap(65534))
	assert.Equal(t, int64(65535), u.Unwrap(65535))
	assert.Equal(t, int64(65536), u.Unwrap(0))
	assert.Equal(t, int64(65537), u.Unwrap(1))
}

func TestSeqNumUnwrapperReorder(t *testing.T) {
	var u SeqNumUnwrapper
	u.Unwrap(100)
	// A packet slightly behind should unwrap to a smaller value, not wrap.
	assert.Equal(t, int64(95), u.Unwrap(95))
}

func TestTimestampUnwrapperRejectsNegative(t *testing.T) {
	u := NewTimestampUnwrapper(false)
	u.Unwrap(5)
	// A large backwards jump would go negative; it must be refused.
	got := u.Unwrap(0xFFFFFFF0)
	assert.Equal(t, int64(5), got)
}
