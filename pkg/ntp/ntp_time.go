// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package ntp maps RTP timestamps into the sender's NTP timebase using RTCP
// sender-report (ntp_secs, ntp_frac, rtp_timestamp) samples, the
// way naivertc's RtpToNtpEstimator/RemoteNtpTimeEstimator do.
package ntp

// ntpEpochOffsetSeconds is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01).
const ntpEpochOffsetSeconds = 2208988800

const fractionsPerSecond = 1 << 32

// Time is a 64-bit NTP timestamp (32.32 fixed point seconds since 1900).
type Time struct {
	Seconds   uint32
	Fractions uint32
}

// NewTime builds a Time from its wire seconds/fraction fields.
func NewTime(seconds, fractions uint32) Time {
	return Time{Seconds: seconds, Fractions: fractions}
}

// Valid reports whether t is non-zero, matching naivertc's NtpTime::Valid.
func (t Time) Valid() bool {
	return t.Seconds != 0 || t.Fractions != 0
}

// ToMs converts t to milliseconds since the Unix epoch.
func (t Time) ToMs() int64 {
	ms := int64(t.Seconds-ntpEpochOffsetSeconds) * 1000
	fracMs := (int64(t.Fractions) * 1000) >> 32
	return ms + fracMs
}

// FromMs builds the Time corresponding to ms milliseconds since the Unix
// epoch.
func FromMs(ms int64) Time {
	seconds := ms / 1000
	remainderMs := ms % 1000
	fractions := (uint64(remainderMs) << 32) / 1000
	return Time{
		Seconds:   uint32(seconds) + ntpEpochOffsetSeconds,
		Fractions: uint32(fractions),
	}
}
