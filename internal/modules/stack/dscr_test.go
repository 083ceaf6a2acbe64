package stack

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSCR(t *testing.T) {
	assert.InDelta(t, 2.0, DSCR(1_000_000, 500_000), 1e-12)
	assert.InDelta(t, 0.5, DSCR(250_000, 500_000), 1e-12)
}

func TestDSCR_ZeroDebtService(t *testing.T) {
	// No debt means any covenant is trivially satisfied
	assert.True(t, math.IsInf(DSCR(900_000, 0), 1))
	assert.True(t, math.IsInf(DSCR(0, 0), 1))
}

func TestDSCR_ZeroNOI(t *testing.T) {
	assert.Equal(t, 0.0, DSCR(0, 500_000))
}
