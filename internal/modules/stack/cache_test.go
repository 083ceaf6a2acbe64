package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheKey_Deterministic(t *testing.T) {
	project := Project{Name: "Riverside Tower", TDC: 10_000_000, NOI: 900_000, MinDSCR: 1.25, MaxLTC: 0.65, MinEquity: 0.10}
	options := []CapitalOption{
		{Name: "SeniorDebt", Kind: KindDebt, AnnualCost: 0.06, MaxShare: 0.65, EnforceDSCR: true},
		{Name: "CommonEquity", Kind: KindEquity, AnnualCost: 0.12, MinShare: 0.10, MaxShare: 1.0},
	}

	assert.Equal(t,
		CacheKey(project, options, 0.01),
		CacheKey(project, options, 0.01))
}

func TestCacheKey_SensitiveToInputs(t *testing.T) {
	project := Project{Name: "Riverside Tower", TDC: 10_000_000, NOI: 900_000, MinDSCR: 1.25, MaxLTC: 0.65, MinEquity: 0.10}
	options := []CapitalOption{
		{Name: "SeniorDebt", Kind: KindDebt, AnnualCost: 0.06, MaxShare: 0.65},
	}

	base := CacheKey(project, options, 0.01)

	changedProject := project
	changedProject.NOI = 800_000
	assert.NotEqual(t, base, CacheKey(changedProject, options, 0.01))

	changedOptions := []CapitalOption{
		{Name: "SeniorDebt", Kind: KindDebt, AnnualCost: 0.07, MaxShare: 0.65},
	}
	assert.NotEqual(t, base, CacheKey(project, changedOptions, 0.01))

	assert.NotEqual(t, base, CacheKey(project, options, 0.05))
}
