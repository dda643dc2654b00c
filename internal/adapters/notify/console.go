package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// Console implements ports.Reporter on a terminal.
type Console struct {
	out   io.Writer
	now   func() time.Time
	limit int
}

// NewConsole creates a reporter that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout, now: time.Now, limit: 30}
}

// NewConsoleWriter creates a reporter on w, for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, now: time.Now, limit: 30}
}

// Report prints the stats summary and a table of the non-terminal pairs.
func (c *Console) Report(pairs []domain.Pair, stats domain.StatsSnapshot) error {
	now := c.now()
	fmt.Fprintf(c.out, "\n[%s] %d pairs | matched+ %d (fill %s%%) | merged %d | settled %d\n",
		now.Format("15:04:05"),
		stats.TotalPairs,
		stats.MatchedOrBetter,
		stats.FillRate.Shift(2).StringFixed(1),
		stats.MergedPairs,
		stats.SettledPairs,
	)
	fmt.Fprintf(c.out, "  profit $%s | deployed $%s\n",
		stats.TotalProfit.StringFixed(4), stats.Deployed.StringFixed(2))

	var line string
	for _, st := range domain.AllPairStatuses() {
		if n := stats.ByStatus[st]; n > 0 {
			line += fmt.Sprintf(" %s:%d", st, n)
		}
	}
	if line != "" {
		fmt.Fprintf(c.out, " %s\n", line)
	}

	var active []domain.Pair
	for _, p := range pairs {
		if !p.Status.Terminal() {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		fmt.Fprintln(c.out, "  (no active pairs)")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Pair", "Asset", "Market", "Status", "YES", "NO", "Cost", "Left")
	for i, p := range active {
		if i >= c.limit {
			break
		}
		cost := "-"
		if pc, ok := p.CurrentPairCost(); ok {
			cost = pc.StringFixed(4)
		}
		table.Append(
			shortID(p.ID),
			p.Asset,
			domain.TruncateQuestion(p.Question, p.ConditionID, 35),
			string(p.Status),
			legLabel(p.Yes),
			legLabel(p.No),
			cost,
			fmt.Sprintf("%.0fm", p.MinutesLeft(now)),
		)
	}
	table.Render()
	if len(active) > c.limit {
		fmt.Fprintf(c.out, "  ... %d more\n", len(active)-c.limit)
	}
	return nil
}

// ReportBreaker prints the circuit breaker state.
func (c *Console) ReportBreaker(cb domain.CircuitBreaker) {
	switch {
	case cb.Triggered:
		fmt.Fprintf(c.out, "  circuit breaker: TRIGGERED (%s) pnl $%s\n", cb.TriggeredReason, cb.TotalPnL.StringFixed(4))
	case !cb.IsOpen(c.now()):
		fmt.Fprintf(c.out, "  circuit breaker: cooling down until %s\n", cb.CooldownUntil.Format("15:04:05"))
	default:
		fmt.Fprintf(c.out, "  circuit breaker: OK (%d losses in a row)\n", cb.ConsecutiveLosses)
	}
}

// legLabel renders a leg as "filled/size@bid".
func legLabel(l domain.Leg) string {
	return fmt.Sprintf("%s/%s@%s", l.FilledSize.String(), l.Size.String(), l.BidPrice.String())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
