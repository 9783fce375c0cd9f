package risk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	CodeKillSwitch      = "KILL_SWITCH"
	CodeHaltOrders      = "HALT_ORDERS"
	CodeDailyTradeLimit = "DAILY_TRADE_LIMIT"
	CodeDailyLossLimit  = "DAILY_LOSS_LIMIT"
)

// ErrLimitBreached is wrapped by LimitBreachedError.
var ErrLimitBreached = errors.New("risk limit breached")

type Violation struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason joins the violation messages.
func (d Decision) Reason() string {
	parts := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		parts[i] = v.Code + ": " + v.Msg
	}
	return strings.Join(parts, "; ")
}

// Err returns a *LimitBreachedError when d has violations.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &LimitBreachedError{Violations: d.Violations}
}

type LimitBreachedError struct {
	Violations []Violation
}

func (e *LimitBreachedError) Error() string {
	return "risk limit breached: " + Decision{Violations: e.Violations}.Reason()
}

func (e *LimitBreachedError) Unwrap() error { return ErrLimitBreached }

// Inputs are the facts a check observed.
type Inputs struct {
	KillSwitch  bool
	HaltOrders  bool
	TradesToday int
	PnLToday    decimal.Decimal
}

// Evaluate applies p to in. The trade limit is breached at trades >= max and
// the loss limit at pnl <= -max.
func Evaluate(p Policy, in Inputs) Decision {
	d := Decision{Allowed: true}

	if in.KillSwitch {
		d.add(CodeKillSwitch, fmt.Sprintf("kill switch present (%s)", p.KillSwitchFile))
	}
	if in.HaltOrders {
		d.add(CodeHaltOrders, fmt.Sprintf("halt orders marker present (%s)", p.HaltOrdersFile))
	}
	if p.MaxTradesPerDay > 0 && in.TradesToday >= p.MaxTradesPerDay {
		d.add(CodeDailyTradeLimit,
			fmt.Sprintf("trades today %d >= max %d", in.TradesToday, p.MaxTradesPerDay))
	}
	if p.MaxDailyLoss > 0 {
		limit := decimal.NewFromFloat(p.MaxDailyLoss).Neg()
		if in.PnLToday.LessThanOrEqual(limit) {
			d.add(CodeDailyLossLimit,
				fmt.Sprintf("pnl today %s <= limit %s", in.PnLToday.StringFixed(2), limit.StringFixed(2)))
		}
	}
	return d
}
