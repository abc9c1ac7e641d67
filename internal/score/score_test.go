package score

import (
	"math"
	"testing"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func TestCalcWinProbabilityAllUnknown(t *testing.T) {
	wp := CalcWinProbability(Factors{})
	if math.Abs(wp.Overall-0.5) > 1e-9 {
		t.Fatalf("expected 0.5 overall with all factors unknown, got %v", wp.Overall)
	}
	for name, v := range wp.Factors {
		if v != 0.5 {
			t.Fatalf("factor %s = %v, want 0.5", name, v)
		}
	}
}

func TestCalcWinProbabilityWeighted(t *testing.T) {
	wp := CalcWinProbability(Factors{
		Responsiveness: f64(0.95),
		Competition:    f64(0.75),
		CIHealth:       f64(0.80),
		Clarity:        f64(0.90),
		Maintainer:     f64(0.70),
	})
	want := 0.95*0.20 + 0.75*0.25 + 0.80*0.15 + 0.90*0.20 + 0.70*0.20
	if math.Abs(wp.Overall-want) > 1e-9 {
		t.Fatalf("overall = %v, want %v", wp.Overall, want)
	}
}

func TestResponsivenessFactor(t *testing.T) {
	cases := []struct {
		hours float64
		want  float64
	}{
		{2, 0.95}, {4, 0.95}, {12, 0.80}, {24, 0.80},
		{48, 0.60}, {100, 0.40}, {168, 0.40}, {500, 0.20},
	}
	for _, c := range cases {
		if got := ResponsivenessFactor(c.hours); got != c.want {
			t.Errorf("ResponsivenessFactor(%v) = %v, want %v", c.hours, got, c.want)
		}
	}
}

func TestCompetitionFactor(t *testing.T) {
	cases := []struct {
		n    int
		want float64
	}{{0, 0.95}, {1, 0.75}, {2, 0.50}, {3, 0.30}, {4, 0.10}, {9, 0.10}}
	for _, c := range cases {
		if got := CompetitionFactor(c.n); got != c.want {
			t.Errorf("CompetitionFactor(%d) = %v, want %v", c.n, got, c.want)
		}
	}
}

func TestCIHealthFactor(t *testing.T) {
	cases := []struct {
		rate float64
		want float64
	}{{0, 0.95}, {0.01, 0.95}, {0.03, 0.80}, {0.08, 0.60}, {0.15, 0.40}, {0.50, 0.20}}
	for _, c := range cases {
		if got := CIHealthFactor(c.rate); got != c.want {
			t.Errorf("CIHealthFactor(%v) = %v, want %v", c.rate, got, c.want)
		}
	}
}

func TestMaintainerFactorClamped(t *testing.T) {
	if got := MaintainerFactor(7); got != 0.7 {
		t.Fatalf("MaintainerFactor(7) = %v", got)
	}
	if got := MaintainerFactor(15); got != 1 {
		t.Fatalf("MaintainerFactor(15) = %v, want clamp to 1", got)
	}
}

func TestTimeEstimateNormalize(t *testing.T) {
	est := TimeEstimate{LoMinutes: 100, BestMinutes: 50, HiMinutes: 900}.Normalize()
	if est.LoMinutes != 100 || est.BestMinutes != 100 || est.HiMinutes != 480 {
		t.Fatalf("unexpected normalization: %+v", est)
	}
}

func TestCalcEV(t *testing.T) {
	ev := CalcEV(300, 0.6, TimeEstimate{LoMinutes: 60, BestMinutes: 120, HiMinutes: 240}, 100)
	if math.Abs(ev.Value-(-20)) > 1e-9 {
		t.Fatalf("EV = %v, want -20", ev.Value)
	}
	if math.Abs(ev.OpportunityCost-200) > 1e-9 {
		t.Fatalf("opportunity cost = %v, want 200", ev.OpportunityCost)
	}
}

func TestCalcEVZeroPayout(t *testing.T) {
	ev := CalcEV(0, 0.9, TimeEstimate{BestMinutes: 90, HiMinutes: 120}, 80)
	if math.Abs(ev.Value-(-ev.OpportunityCost)) > 1e-9 {
		t.Fatalf("zero payout EV = %v, want -opportunity cost %v", ev.Value, ev.OpportunityCost)
	}
}

func TestCheckBuyBoxUnknownIsWarning(t *testing.T) {
	bb := BuyBox{MinEV: 50, MinWinProbability: 0.4, MaxTimeToFirstGreenMin: 120, MinMaintainerScore: 5, MaxCompetingPRs: 2}
	res := CheckBuyBox(BuyBoxInput{EV: f64(120), WinProbability: f64(0.55)}, bb)
	if !res.Passed {
		t.Fatalf("expected pass with unknowns as warnings, got reasons %v", res.Reasons)
	}
	if len(res.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", res.Warnings)
	}
}

func TestCheckBuyBoxFailures(t *testing.T) {
	bb := BuyBox{MinEV: 50, MinWinProbability: 0.4, MaxTimeToFirstGreenMin: 120, MinMaintainerScore: 5, MaxCompetingPRs: 2}
	res := CheckBuyBox(BuyBoxInput{
		EV:                  f64(10),
		WinProbability:      f64(0.2),
		TimeToFirstGreenMin: intp(300),
		MaintainerScore:     f64(3),
		CompetingPRs:        intp(5),
	}, bb)
	if res.Passed {
		t.Fatal("expected failure")
	}
	if len(res.Reasons) != 5 {
		t.Fatalf("expected 5 reasons, got %v", res.Reasons)
	}
}

func TestComplexityBounds(t *testing.T) {
	if c := Complexity("fix typo in README", "one character", []string{"good first issue"}); c > 20 {
		t.Fatalf("trivial task scored %d", c)
	}
	hard := Complexity("refactor protocol layer", "race condition plus migration and security review needed", []string{"epic", "breaking change"})
	if hard < 60 {
		t.Fatalf("hard task scored %d", hard)
	}
	if hard > 100 {
		t.Fatalf("complexity exceeded cap: %d", hard)
	}
}
