package forecast

import (
	"math"
	"testing"
)

// series returns n closes following a fixed daily growth rate
func series(n int, start, dailyGrowth float64) []float64 {
	closes := make([]float64, n)
	v := start
	for i := range closes {
		closes[i] = v
		v *= 1 + dailyGrowth
	}
	return closes
}

func TestProjectDeterministic(t *testing.T) {
	closes := series(60, 100, 0.005)

	p1, c1, err := Project(closes, 7)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	p2, c2, err := Project(closes, 7)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if p1 != p2 || c1 != c2 {
		t.Errorf("Project is not deterministic: (%f,%f) vs (%f,%f)", p1, c1, p2, c2)
	}
}

func TestProjectFollowsTrend(t *testing.T) {
	up := series(60, 100, 0.01)
	down := series(60, 100, -0.01)

	last := up[len(up)-1]
	predicted, _, err := Project(up, 7)
	if err != nil {
		t.Fatalf("Project up: %v", err)
	}
	if predicted <= last*0.95 {
		t.Errorf("uptrend projection %f should not collapse below last close %f", predicted, last)
	}

	last = down[len(down)-1]
	predicted, _, err = Project(down, 7)
	if err != nil {
		t.Fatalf("Project down: %v", err)
	}
	if predicted >= last*1.05 {
		t.Errorf("downtrend projection %f should not exceed last close %f", predicted, last)
	}
	if predicted <= 0 {
		t.Errorf("projection must stay positive, got %f", predicted)
	}
}

func TestProjectStaysInsideVolatilityCone(t *testing.T) {
	// Steep but bounded trend: the cone must cap the projection.
	closes := series(60, 100, 0.02)
	last := closes[len(closes)-1]

	predicted, _, err := Project(closes, 30)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if predicted > last*2 {
		t.Errorf("projection %f escaped the volatility cone around %f", predicted, last)
	}
}

func TestProjectInputValidation(t *testing.T) {
	if _, _, err := Project(series(10, 100, 0), 7); err == nil {
		t.Error("expected error for short history")
	}
	if _, _, err := Project(series(60, 100, 0.001), 0); err == nil {
		t.Error("expected error for zero horizon")
	}
	if _, _, err := Project(series(60, 100, 0.001), -1); err == nil {
		t.Error("expected error for negative horizon")
	}
}

func TestConfidenceDecays(t *testing.T) {
	vol := 0.01
	prev := 1.0
	for _, h := range []int{1, 7, 30, 90} {
		c := Confidence(h, vol)
		if c < 0.05 || c > 0.95 {
			t.Errorf("Confidence(%d, %f) = %f outside [0.05, 0.95]", h, vol, c)
		}
		if c >= prev {
			t.Errorf("Confidence(%d) = %f should decay below %f", h, c, prev)
		}
		prev = c
	}

	// Higher volatility means lower confidence at the same horizon.
	if Confidence(7, 0.05) >= Confidence(7, 0.005) {
		t.Error("confidence should decrease with volatility")
	}
}

func TestIsOutlier(t *testing.T) {
	cases := []struct {
		name                 string
		predicted, latest, c float64
		want                 bool
	}{
		{"sane prediction", 105, 100, 0.7, false},
		{"above 2x", 201, 100, 0.7, true},
		{"exactly 2x", 200, 100, 0.7, false},
		{"below half", 49, 100, 0.7, true},
		{"exactly half", 50, 100, 0.7, false},
		{"junk confidence", 105, 100, 0.19, true},
		{"confidence at floor", 105, 100, 0.2, false},
		{"no reference close", 105, 0, 0.7, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsOutlier(tc.predicted, tc.latest, tc.c); got != tc.want {
				t.Errorf("IsOutlier(%f, %f, %f) = %v, want %v",
					tc.predicted, tc.latest, tc.c, got, tc.want)
			}
		})
	}
}

func TestQualityScore(t *testing.T) {
	// Perfect prediction with matching confidence scores highest.
	perfect := QualityScore(0, 1.0)
	if perfect != 1.0 {
		t.Errorf("QualityScore(0, 1.0) = %f, want 1.0", perfect)
	}

	// Overconfident misses score below honest misses.
	overconfident := QualityScore(40, 0.95)
	honest := QualityScore(40, 0.6)
	if overconfident >= honest {
		t.Errorf("overconfident %f should score below calibrated %f", overconfident, honest)
	}

	// Errors beyond 100% floor at zero.
	if got := QualityScore(150, 0.5); got != 0 {
		t.Errorf("QualityScore(150, 0.5) = %f, want 0", got)
	}

	for _, pctErr := range []float64{0, 2, 10, 50, 99, 200} {
		for _, conf := range []float64{0.05, 0.5, 0.95} {
			s := QualityScore(pctErr, conf)
			if s < 0 || s > 1 {
				t.Errorf("QualityScore(%f, %f) = %f outside [0,1]", pctErr, conf, s)
			}
		}
	}
}

func TestReturnVolatility(t *testing.T) {
	// A constant series has zero volatility.
	flat := series(40, 100, 0)
	if v := returnVolatility(flat, 20); v != 0 {
		t.Errorf("flat series volatility = %f, want 0", v)
	}

	// A choppier series has higher volatility.
	choppy := make([]float64, 40)
	for i := range choppy {
		if i%2 == 0 {
			choppy[i] = 100
		} else {
			choppy[i] = 110
		}
	}
	steady := series(40, 100, 0.001)
	if returnVolatility(choppy, 20) <= returnVolatility(steady, 20) {
		t.Error("choppy series should have higher volatility than steady growth")
	}
}

func TestEMA(t *testing.T) {
	flat := series(30, 50, 0)
	if got := ema(flat, 10); math.Abs(got-50) > 1e-9 {
		t.Errorf("ema of constant series = %f, want 50", got)
	}

	rising := series(60, 100, 0.01)
	got := ema(rising, 10)
	last := rising[len(rising)-1]
	if got >= last {
		t.Errorf("ema %f should lag the last close %f on a rising series", got, last)
	}
	if got < rising[len(rising)-20] {
		t.Errorf("ema %f lags too far behind on a rising series", got)
	}
}
