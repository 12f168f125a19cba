package exits

import (
	"math"
	"testing"
	"time"

	"TradeCore/internal/domain/models"
	applogger "TradeCore/pkg/logger"
)

func newTestPlanner() *Planner {
	return NewPlanner(DefaultConfig(), applogger.Nop(), nil)
}

func mustPlan(t *testing.T, p *Planner, instrument string, side models.Side, entry, size float64, reg *models.RegimeRecord) {
	t.Helper()
	if _, err := p.CreatePlan(instrument, side, entry, size, reg); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
}

func execAll(t *testing.T, p *Planner, instrument string, sigs []models.ExitSignal) {
	t.Helper()
	for _, sig := range sigs {
		if err := p.ExecuteExit(instrument, sig); err != nil {
			t.Fatalf("ExecuteExit(%+v): %v", sig, err)
		}
	}
}

func TestCreatePlanValidation(t *testing.T) {
	p := newTestPlanner()

	cases := []struct {
		name       string
		instrument string
		side       models.Side
		entry      float64
		size       float64
	}{
		{"empty instrument", "", models.SideLong, 100, 1},
		{"bad side", "BTC-USD", models.Side("sideways"), 100, 1},
		{"zero entry", "BTC-USD", models.SideLong, 0, 1},
		{"zero size", "BTC-USD", models.SideLong, 100, 0},
	}
	for _, tc := range cases {
		if _, err := p.CreatePlan(tc.instrument, tc.side, tc.entry, tc.size, nil); err == nil {
			t.Errorf("%s: want error, got nil", tc.name)
		}
	}

	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1, nil)
	if _, err := p.CreatePlan("BTC-USD", models.SideLong, 100, 1, nil); err == nil {
		t.Fatalf("duplicate active plan accepted")
	}

	if _, err := p.ClosePosition("BTC-USD", 100); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if _, err := p.CreatePlan("BTC-USD", models.SideLong, 100, 1, nil); err != nil {
		t.Fatalf("replacing closed plan: %v", err)
	}
}

func TestLadderLevelsFireOnce(t *testing.T) {
	p := newTestPlanner()
	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)

	sigs := p.OnPriceUpdate("BTC-USD", 100.5)
	if len(sigs) != 1 {
		t.Fatalf("at +0.5%%: got %d signals, want 1", len(sigs))
	}
	if sigs[0].Reason != ReasonProfitTarget || sigs[0].ExitSize != 0.25 {
		t.Fatalf("first level signal = %+v", sigs[0])
	}
	execAll(t, p, "BTC-USD", sigs)

	// Same level does not re-fire on a later tick.
	if got := p.OnPriceUpdate("BTC-USD", 100.6); len(got) != 0 {
		t.Fatalf("re-tick below next target: got %d signals, want 0", len(got))
	}

	sigs = p.OnPriceUpdate("BTC-USD", 101)
	if len(sigs) != 1 {
		t.Fatalf("at +1%%: got %d signals, want 1", len(sigs))
	}
	if sigs[0].ExitSize != 0.25 {
		t.Fatalf("second level size = %v, want 0.25", sigs[0].ExitSize)
	}
	execAll(t, p, "BTC-USD", sigs)

	plan, ok := p.Plan("BTC-USD")
	if !ok {
		t.Fatal("plan missing")
	}
	if !plan.Active {
		t.Fatal("plan inactive after two partial exits")
	}
	if plan.TotalExited <= 0 {
		t.Fatalf("TotalExited = %v, want > 0", plan.TotalExited)
	}
}

func TestGapThroughTwoLevels(t *testing.T) {
	p := newTestPlanner()
	mustPlan(t, p, "ETH-USD", models.SideLong, 200, 1.0, nil)

	sigs := p.OnPriceUpdate("ETH-USD", 202) // +1%, clears the first two rungs
	if len(sigs) != 2 {
		t.Fatalf("got %d signals, want 2", len(sigs))
	}
	var total float64
	for _, s := range sigs {
		total += s.ExitSize
	}
	if math.Abs(total-0.5) > 1e-9 {
		t.Fatalf("combined size = %v, want 0.5", total)
	}
}

func TestTrailingStopArmsAndOnlyTightens(t *testing.T) {
	p := newTestPlanner()
	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)

	execAll(t, p, "BTC-USD", p.OnPriceUpdate("BTC-USD", 101)) // levels 1 and 2

	plan, _ := p.Plan("BTC-USD")
	firstStop := plan.TrailingStop
	if firstStop == 0 {
		t.Fatal("trailing stop not armed at +1%")
	}

	p.OnPriceUpdate("BTC-USD", 101.5)
	plan, _ = p.Plan("BTC-USD")
	if plan.TrailingStop <= firstStop {
		t.Fatalf("stop did not tighten: %v -> %v", firstStop, plan.TrailingStop)
	}
	tightened := plan.TrailingStop

	// A pullback below the activation profit must not loosen the stop.
	if got := p.OnPriceUpdate("BTC-USD", 100.5); len(got) != 0 {
		t.Fatalf("pullback above stop emitted %d signals", len(got))
	}
	plan, _ = p.Plan("BTC-USD")
	if plan.TrailingStop != tightened {
		t.Fatalf("stop moved on pullback: %v -> %v", tightened, plan.TrailingStop)
	}

	sigs := p.OnPriceUpdate("BTC-USD", tightened-0.01)
	if len(sigs) != 1 || sigs[0].Reason != ReasonTrailingStop {
		t.Fatalf("breach signals = %+v", sigs)
	}
	if math.Abs(sigs[0].ExitSize-0.5) > 1e-9 {
		t.Fatalf("trailing exit size = %v, want remaining 0.5", sigs[0].ExitSize)
	}
}

func TestEmergencyStopDeactivates(t *testing.T) {
	p := newTestPlanner()
	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)

	sigs := p.OnPriceUpdate("BTC-USD", 94.9)
	if len(sigs) != 1 {
		t.Fatalf("got %d signals, want 1", len(sigs))
	}
	sig := sigs[0]
	if sig.Reason != ReasonEmergencyStop || sig.ExitSize != 1.0 || sig.Confidence != 1.0 {
		t.Fatalf("emergency signal = %+v", sig)
	}

	plan, _ := p.Plan("BTC-USD")
	if plan.Active {
		t.Fatal("plan still active after emergency stop")
	}
	if got := p.OnPriceUpdate("BTC-USD", 94.0); got != nil {
		t.Fatalf("inactive plan emitted %d signals", len(got))
	}

	// Confirmation still lands and closes the plan.
	execAll(t, p, "BTC-USD", sigs)
	stats, ok := p.Stats("BTC-USD")
	if !ok || stats.ClosedPlans != 1 || stats.Wins != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	if math.Abs(stats.TotalPnL-(-5.1)) > 1e-9 {
		t.Fatalf("TotalPnL = %v, want -5.1", stats.TotalPnL)
	}
}

func TestShortSide(t *testing.T) {
	p := newTestPlanner()
	mustPlan(t, p, "BTC-USD", models.SideShort, 100, 1.0, nil)

	sigs := p.OnPriceUpdate("BTC-USD", 99) // +1% for a short
	if len(sigs) != 2 {
		t.Fatalf("got %d signals, want 2", len(sigs))
	}
	execAll(t, p, "BTC-USD", sigs)

	plan, _ := p.Plan("BTC-USD")
	if plan.RealizedPnL <= 0 {
		t.Fatalf("short profit booked as %v, want > 0", plan.RealizedPnL)
	}

	// The stop trailed down to 99.99 on the move to 99; a spike back up
	// breaches it before the emergency stop matters.
	sigs = p.OnPriceUpdate("BTC-USD", 105.1)
	if len(sigs) != 1 || sigs[0].Reason != ReasonTrailingStop {
		t.Fatalf("short trailing signals = %+v", sigs)
	}
}

func TestShortEmergencyStop(t *testing.T) {
	p := newTestPlanner()
	mustPlan(t, p, "BTC-USD", models.SideShort, 100, 1.0, nil)

	sigs := p.OnPriceUpdate("BTC-USD", 105.1)
	if len(sigs) != 1 || sigs[0].Reason != ReasonEmergencyStop {
		t.Fatalf("short emergency signals = %+v", sigs)
	}
	if sigs[0].ExitSize != 1.0 {
		t.Fatalf("ExitSize = %v, want full position", sigs[0].ExitSize)
	}
}

func TestExecuteExitValidation(t *testing.T) {
	p := newTestPlanner()
	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)

	if err := p.ExecuteExit("ETH-USD", models.ExitSignal{ExitSize: 0.1, ExitPrice: 100}); err == nil {
		t.Fatal("unknown instrument accepted")
	}
	reject := []models.ExitSignal{
		{Instrument: "BTC-USD", ExitSize: 2.0, ExitPrice: 101},
		{Instrument: "BTC-USD", ExitSize: 0, ExitPrice: 101},
		{Instrument: "BTC-USD", ExitSize: 0.1, ExitPrice: 0},
	}
	for _, sig := range reject {
		if err := p.ExecuteExit("BTC-USD", sig); err == nil {
			t.Fatalf("invalid exit accepted: %+v", sig)
		}
	}

	plan, _ := p.Plan("BTC-USD")
	if plan.TotalExited != 0 || plan.RealizedPnL != 0 {
		t.Fatalf("rejected exits mutated state: %+v", plan)
	}
}

func TestExitAccounting(t *testing.T) {
	p := newTestPlanner()
	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)

	prices := []float64{100.5, 101, 102}
	for _, px := range prices {
		for _, sig := range p.OnPriceUpdate("BTC-USD", px) {
			if err := p.ExecuteExit("BTC-USD", sig); err != nil {
				t.Fatalf("ExecuteExit at %v: %v", px, err)
			}
			plan, _ := p.Plan("BTC-USD")
			if math.Abs(plan.TotalExited+plan.RemainingSize()-plan.OriginalSize) > 1e-9 {
				t.Fatalf("accounting broken: exited %v remaining %v original %v",
					plan.TotalExited, plan.RemainingSize(), plan.OriginalSize)
			}
			var executed int
			for _, lv := range plan.Levels {
				if lv.Executed {
					executed++
				}
			}
			if got := plan.TotalExited / 0.25; math.Abs(got-float64(executed)) > 1e-9 {
				t.Fatalf("executed levels %d do not match exited size %v", executed, plan.TotalExited)
			}
		}
	}

	plan, _ := p.Plan("BTC-USD")
	if math.Abs(plan.TotalExited-0.75) > 1e-9 {
		t.Fatalf("TotalExited = %v, want 0.75 after three rungs", plan.TotalExited)
	}
}

func TestPlanClosesAtThreshold(t *testing.T) {
	p := newTestPlanner()
	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)

	for i := 0; i < 4; i++ {
		sig := models.ExitSignal{Instrument: "BTC-USD", ExitSize: 0.25, ExitPrice: 102}
		if err := p.ExecuteExit("BTC-USD", sig); err != nil {
			t.Fatalf("exit %d: %v", i, err)
		}
	}

	plan, _ := p.Plan("BTC-USD")
	if plan.Active {
		t.Fatal("plan active after full exit")
	}
	stats, ok := p.Stats("BTC-USD")
	if !ok {
		t.Fatal("stats missing after close")
	}
	if stats.ClosedPlans != 1 || stats.Wins != 1 || stats.WinRate != 1.0 {
		t.Fatalf("stats = %+v", stats)
	}
	if math.Abs(stats.TotalPnL-2.0) > 1e-9 {
		t.Fatalf("TotalPnL = %v, want 2.0", stats.TotalPnL)
	}
}

func TestResidualFillDoesNotReclosePlan(t *testing.T) {
	p := newTestPlanner()
	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)

	// The first fill crosses the close threshold; the residual fill
	// must book its pnl without archiving the plan a second time.
	fills := []float64{0.995, 0.005}
	for _, size := range fills {
		sig := models.ExitSignal{Instrument: "BTC-USD", ExitSize: size, ExitPrice: 102}
		if err := p.ExecuteExit("BTC-USD", sig); err != nil {
			t.Fatalf("fill %v: %v", size, err)
		}
	}

	stats, ok := p.Stats("BTC-USD")
	if !ok {
		t.Fatal("stats missing after close")
	}
	if stats.ClosedPlans != 1 || stats.Wins != 1 {
		t.Fatalf("plan archived more than once: %+v", stats)
	}
	if math.Abs(stats.TotalPnL-1.99) > 1e-9 {
		t.Fatalf("TotalPnL = %v, want 1.99", stats.TotalPnL)
	}
	plan, _ := p.Plan("BTC-USD")
	if math.Abs(plan.RealizedPnL-2.0) > 1e-9 {
		t.Fatalf("RealizedPnL = %v, want 2.0", plan.RealizedPnL)
	}
}

func TestTrailingDistanceFollowsPendingRung(t *testing.T) {
	p := newTestPlanner()
	volatile := &models.RegimeRecord{Regime: models.RegimeVolatile, Confidence: 0.8}
	mustPlan(t, p, "BASE", models.SideLong, 100, 1.0, nil)
	mustPlan(t, p, "VOL", models.SideLong, 100, 1.0, volatile)

	p.OnPriceUpdate("BASE", 101)
	p.OnPriceUpdate("VOL", 101)

	basePlan, _ := p.Plan("BASE")
	volPlan, _ := p.Plan("VOL")
	if basePlan.TrailingStop == 0 || volPlan.TrailingStop == 0 {
		t.Fatalf("trailing stops not armed: base %v vol %v",
			basePlan.TrailingStop, volPlan.TrailingStop)
	}

	// Both plans have two rungs cleared at +1%; the stop distance comes
	// from the third rung, which the volatile ladder loosens.
	want := 101 * (1 - basePlan.Levels[2].TrailingDistance)
	if math.Abs(basePlan.TrailingStop-want) > 1e-9 {
		t.Fatalf("base stop = %v, want %v from rung distance", basePlan.TrailingStop, want)
	}
	if volPlan.TrailingStop >= basePlan.TrailingStop {
		t.Fatalf("volatile stop %v not looser than base %v",
			volPlan.TrailingStop, basePlan.TrailingStop)
	}
}

func TestClosePosition(t *testing.T) {
	p := newTestPlanner()
	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)
	execAll(t, p, "BTC-USD", p.OnPriceUpdate("BTC-USD", 100.5))

	sig, err := p.ClosePosition("BTC-USD", 99)
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if sig.Reason != ReasonForcedClose || math.Abs(sig.ExitSize-0.75) > 1e-9 {
		t.Fatalf("forced close signal = %+v", sig)
	}

	plan, _ := p.Plan("BTC-USD")
	if plan.Active || plan.RemainingSize() != 0 {
		t.Fatalf("plan not closed: %+v", plan)
	}
	// 0.25 out at 100.5, 0.75 out at 99.
	want := 0.25*0.5 + 0.75*(-1.0)
	if math.Abs(plan.RealizedPnL-want) > 1e-9 {
		t.Fatalf("RealizedPnL = %v, want %v", plan.RealizedPnL, want)
	}

	if _, err := p.ClosePosition("BTC-USD", 99); err == nil {
		t.Fatal("second ClosePosition accepted")
	}
}

func TestTimeLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LevelTimeLimit = time.Hour
	cfg.MaxHoldingTime = 4 * time.Hour

	p := NewPlanner(cfg, applogger.Nop(), nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	p.now = func() time.Time { return clock }

	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)

	clock = base.Add(30 * time.Minute)
	if got := p.OnPriceUpdate("BTC-USD", 100.1); len(got) != 0 {
		t.Fatalf("before deadline: %d signals", len(got))
	}

	clock = base.Add(time.Hour)
	sigs := p.OnPriceUpdate("BTC-USD", 100.1)
	if len(sigs) != 4 {
		t.Fatalf("at level deadline: got %d signals, want 4", len(sigs))
	}
	for _, sig := range sigs {
		if sig.Reason != ReasonTimeLimit {
			t.Fatalf("reason = %q, want %q", sig.Reason, ReasonTimeLimit)
		}
	}
	execAll(t, p, "BTC-USD", sigs[:2]) // confirm half, leave the rest pending

	clock = base.Add(5 * time.Hour)
	// Per-level deadlines already fired; the whole-position limit sweeps
	// whatever confirmation never arrived for.
	sigs = p.OnPriceUpdate("BTC-USD", 100.1)
	if len(sigs) != 0 {
		t.Fatalf("pending emissions re-fired: %+v", sigs)
	}
}

func TestWholePositionTimeLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHoldingTime = 2 * time.Hour

	p := NewPlanner(cfg, applogger.Nop(), nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	p.now = func() time.Time { return clock }

	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)

	clock = base.Add(3 * time.Hour)
	sigs := p.OnPriceUpdate("BTC-USD", 100.1)
	if len(sigs) != 1 || sigs[0].Reason != ReasonTimeLimit {
		t.Fatalf("signals = %+v", sigs)
	}
	if sigs[0].ExitSize != 1.0 {
		t.Fatalf("ExitSize = %v, want full position", sigs[0].ExitSize)
	}

	if got := p.OnPriceUpdate("BTC-USD", 100.1); len(got) != 0 {
		t.Fatalf("time limit re-fired: %d signals", len(got))
	}
}

func TestRegimeAdaptsLadder(t *testing.T) {
	p := newTestPlanner()

	trending := &models.RegimeRecord{Regime: models.RegimeTrendingUp, Confidence: 0.8}
	mustPlan(t, p, "TREND", models.SideLong, 100, 1.0, trending)
	volatile := &models.RegimeRecord{Regime: models.RegimeVolatile, Confidence: 0.8}
	mustPlan(t, p, "VOL", models.SideLong, 100, 1.0, volatile)
	mustPlan(t, p, "BASE", models.SideLong, 100, 1.0, nil)

	basePlan, _ := p.Plan("BASE")
	trendPlan, _ := p.Plan("TREND")
	volPlan, _ := p.Plan("VOL")

	if trendPlan.Levels[0].ProfitTarget <= basePlan.Levels[0].ProfitTarget {
		t.Fatalf("trending target %v not stretched past %v",
			trendPlan.Levels[0].ProfitTarget, basePlan.Levels[0].ProfitTarget)
	}
	if volPlan.Levels[0].ProfitTarget >= basePlan.Levels[0].ProfitTarget {
		t.Fatalf("volatile target %v not shrunk below %v",
			volPlan.Levels[0].ProfitTarget, basePlan.Levels[0].ProfitTarget)
	}
	if volPlan.Levels[0].TrailingDistance <= volPlan.Levels[0].ProfitTarget*0.5 {
		t.Fatalf("volatile trailing distance %v not loosened", volPlan.Levels[0].TrailingDistance)
	}
	if volPlan.EmergencyStop >= basePlan.EmergencyStop {
		t.Fatalf("volatile emergency stop %v not wider than %v",
			volPlan.EmergencyStop, basePlan.EmergencyStop)
	}
}

func TestAvgHoldingTime(t *testing.T) {
	p := newTestPlanner()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	p.now = func() time.Time { return clock }

	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)
	clock = base.Add(2 * time.Hour)
	if _, err := p.ClosePosition("BTC-USD", 101); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	stats, _ := p.Stats("BTC-USD")
	if stats.AvgHoldingTime != 2*time.Hour {
		t.Fatalf("AvgHoldingTime = %v, want 2h", stats.AvgHoldingTime)
	}

	clock = base.Add(2 * time.Hour)
	mustPlan(t, p, "BTC-USD", models.SideLong, 100, 1.0, nil)
	clock = base.Add(6 * time.Hour)
	if _, err := p.ClosePosition("BTC-USD", 101); err != nil {
		t.Fatalf("second ClosePosition: %v", err)
	}

	stats, _ = p.Stats("BTC-USD")
	if stats.AvgHoldingTime <= 2*time.Hour || stats.AvgHoldingTime >= 4*time.Hour {
		t.Fatalf("AvgHoldingTime = %v, want smoothed between 2h and 4h", stats.AvgHoldingTime)
	}
	if stats.ClosedPlans != 2 || stats.Wins != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}
