package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	p := Policy{MaxTradesPerDay: 2, MaxDailyLoss: 100, KillSwitchFile: "/tmp/KILL"}

	tests := []struct {
		name  string
		in    Inputs
		codes []string
	}{
		{"clean", Inputs{TradesToday: 1, PnLToday: decimal.NewFromInt(-50)}, nil},
		{"trade limit at max", Inputs{TradesToday: 2}, []string{CodeDailyTradeLimit}},
		{"loss at limit", Inputs{PnLToday: decimal.NewFromInt(-100)}, []string{CodeDailyLossLimit}},
		{"loss just inside", Inputs{PnLToday: decimal.RequireFromString("-99.99")}, nil},
		{"kill switch", Inputs{KillSwitch: true}, []string{CodeKillSwitch}},
		{"everything", Inputs{KillSwitch: true, HaltOrders: true, TradesToday: 5, PnLToday: decimal.NewFromInt(-500)},
			[]string{CodeKillSwitch, CodeHaltOrders, CodeDailyTradeLimit, CodeDailyLossLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Evaluate(p, tt.in)
			var codes []string
			for _, v := range d.Violations {
				codes = append(codes, v.Code)
			}
			assert.Equal(t, tt.codes, codes)
			assert.Equal(t, len(tt.codes) == 0, d.Allowed)
			if d.Allowed {
				assert.NoError(t, d.Err())
			} else {
				assert.ErrorIs(t, d.Err(), ErrLimitBreached)
			}
		})
	}
}

func TestEvaluate_ZeroLimitsDisabled(t *testing.T) {
	t.Parallel()

	d := Evaluate(Policy{}, Inputs{TradesToday: 100, PnLToday: decimal.NewFromInt(-1e6)})
	assert.True(t, d.Allowed)
}

func TestPolicyValidateAndLocation(t *testing.T) {
	t.Parallel()

	assert.Error(t, Policy{MaxTradesPerDay: -1}.Validate())
	assert.Error(t, Policy{MaxDailyLoss: -1}.Validate())
	assert.NoError(t, Policy{}.Validate())

	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLocation, loc.String())

	_, err = LoadLocation("Not/AZone")
	assert.Error(t, err)
}
