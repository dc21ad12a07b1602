// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sampling

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rate(v float64) *float64 { return &v }

func TestDecideNilRateAlwaysInWithoutCaching(t *testing.T) {
	d := New()
	for i := 0; i < 10; i++ {
		assert.True(t, d.Decide(nil, "sess-a"))
	}
	_, cached := d.Cached("sess-a")
	assert.False(t, cached, "nil rate must not consume a cache slot")
}

func TestDecideBoundaryRates(t *testing.T) {
	d := New()
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("sess-%d", i)
		assert.False(t, d.Decide(rate(0), id), "rate 0 must always exclude")
	}

	d = New()
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("sess-%d", i)
		assert.True(t, d.Decide(rate(1), id), "rate 1 must always include")
	}
}

func TestDecideStablePerSession(t *testing.T) {
	d := NewWithSource(rand.NewSource(42))
	first := d.Decide(rate(0.5), "sess-stable")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, d.Decide(rate(0.5), "sess-stable"))
	}
}

func TestDecideHalfRateBothOutcomes(t *testing.T) {
	d := NewWithSource(rand.NewSource(1))

	in, out := 0, 0
	for i := 0; i < 200; i++ {
		if d.Decide(rate(0.5), fmt.Sprintf("sess-%d", i)) {
			in++
		} else {
			out++
		}
	}

	require.Equal(t, 200, in+out)
	assert.Greater(t, in, 20, "expected a non-trivial sampled-in fraction")
	assert.Greater(t, out, 20, "expected a non-trivial sampled-out fraction")
}
