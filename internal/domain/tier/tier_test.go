package tier_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/okian/installmatch/internal/domain/errkind"
	"github.com/okian/installmatch/internal/domain/tier"
	. "github.com/smartystreets/goconvey/convey"
)

func mustEngine() *tier.Engine {
	e, err := tier.NewEngine(tier.DefaultProfile())
	if err != nil {
		panic(err)
	}
	return e
}

var top = tier.Metrics{
	Rating: 4.9, CompletedJobs: 250, PhotoQuality: 95,
	ResponseMinutes: 20, OnTimeRate: 97, SatisfactionRate: 98,
}

func TestScaleMapping(t *testing.T) {
	Convey("Given the unified tier enum", t, func() {
		Convey("Then numeric grades round-trip", func() {
			for _, id := range tier.All {
				got, err := tier.FromGrade(id.Grade())
				So(err, ShouldBeNil)
				So(got, ShouldEqual, id)
			}
			So(tier.Diamond.Grade(), ShouldEqual, 1)
			So(tier.Bronze.Grade(), ShouldEqual, 5)
		})

		Convey("Then letters map to the better shared tier", func() {
			So(tier.Diamond.Letter(), ShouldEqual, "A")
			So(tier.Bronze.Letter(), ShouldEqual, "D")
			id, err := tier.FromLetter("d")
			So(err, ShouldBeNil)
			So(id, ShouldEqual, tier.Silver)
		})

		Convey("Then unknown identifiers are configuration errors", func() {
			_, err := tier.ParseID("emerald")
			So(errkind.IsConfig(err), ShouldBeTrue)
			_, err = tier.FromGrade(0)
			So(err, ShouldWrap, tier.ErrUnknownTier)
			_, err = tier.FromLetter("E")
			So(err, ShouldNotBeNil)
		})

		Convey("Then ids encode as names in JSON", func() {
			b, err := json.Marshal(map[string]tier.ID{"t": tier.Gold})
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, `{"t":"gold"}`)

			var out map[string]tier.ID
			So(json.Unmarshal([]byte(`{"t":"platinum"}`), &out), ShouldBeNil)
			So(out["t"], ShouldEqual, tier.Platinum)
		})
	})
}

func TestDetermine(t *testing.T) {
	e := mustEngine()

	Convey("Given contractors at each level", t, func() {
		So(e.Determine(top), ShouldEqual, tier.Diamond)

		gold := tier.Metrics{Rating: 4.4, CompletedJobs: 60, PhotoQuality: 75, ResponseMinutes: 100, OnTimeRate: 88, SatisfactionRate: 86}
		So(e.Determine(gold), ShouldEqual, tier.Gold)

		So(e.Determine(tier.Metrics{}), ShouldEqual, tier.Bronze)
	})

	Convey("Given one metric missing the bar", t, func() {
		slow := top
		slow.ResponseMinutes = 45

		Convey("Then the contractor drops to the highest fully satisfied tier", func() {
			So(e.Determine(slow), ShouldEqual, tier.Platinum)
		})
	})

	Convey("Given malformed metrics", t, func() {
		bad := tier.Metrics{Rating: 12, CompletedJobs: -5, PhotoQuality: math.NaN(), ResponseMinutes: -3, OnTimeRate: 400, SatisfactionRate: math.Inf(1)}

		Convey("Then they are clamped and never fail", func() {
			So(func() { e.Determine(bad) }, ShouldNotPanic)
			c := bad.Clamp()
			So(c.Rating, ShouldEqual, 5.0)
			So(c.CompletedJobs, ShouldEqual, 0)
			So(c.PhotoQuality, ShouldEqual, 0.0)
			So(c.ResponseMinutes, ShouldEqual, 1.0)
			So(c.OnTimeRate, ShouldEqual, 100.0)
			So(c.SatisfactionRate, ShouldEqual, 100.0)
		})
	})

	Convey("Given any starting metrics", t, func() {
		bases := []tier.Metrics{
			{},
			{Rating: 4.4, CompletedJobs: 60, PhotoQuality: 75, ResponseMinutes: 100, OnTimeRate: 88, SatisfactionRate: 86},
			{Rating: 4.7, CompletedJobs: 150, PhotoQuality: 85, ResponseMinutes: 50, OnTimeRate: 92, SatisfactionRate: 91},
			{Rating: 3.9, CompletedJobs: 9, PhotoQuality: 59, ResponseMinutes: 300, OnTimeRate: 70, SatisfactionRate: 70},
		}

		Convey("Then improving one metric never lowers the tier", func() {
			for _, b := range bases {
				before := e.Determine(b)
				for step := 0; step < 20; step++ {
					improved := []tier.Metrics{b, b, b, b, b, b}
					improved[0].Rating += 0.1 * float64(step)
					improved[1].CompletedJobs += 15 * step
					improved[2].PhotoQuality += 5 * float64(step)
					improved[3].ResponseMinutes -= 20 * float64(step)
					improved[4].OnTimeRate += 3 * float64(step)
					improved[5].SatisfactionRate += 3 * float64(step)
					for _, m := range improved {
						So(int(e.Determine(m)), ShouldBeGreaterThanOrEqualTo, int(before))
					}
				}
			}
		})
	})
}

func TestWeightedScore(t *testing.T) {
	e := mustEngine()

	Convey("Given clamped inputs", t, func() {
		Convey("Then the score stays within [0,100]", func() {
			for _, m := range []tier.Metrics{
				{},
				top,
				{Rating: 99, CompletedJobs: 1 << 20, PhotoQuality: 1e9, ResponseMinutes: -1, OnTimeRate: 1e9},
				{Rating: -1, PhotoQuality: math.NaN(), ResponseMinutes: math.NaN()},
			} {
				s := e.Score(m)
				So(s, ShouldBeBetweenOrEqual, 0, 100)
			}
		})

		Convey("Then a perfect contractor scores 100", func() {
			perfect := tier.Metrics{Rating: 5, CompletedJobs: 200, PhotoQuality: 100, ResponseMinutes: 1, OnTimeRate: 100}
			So(e.Score(perfect), ShouldAlmostEqual, 100, 1e-9)
		})

		Convey("Then faster responses score higher", func() {
			fast, slow := top, top
			slow.ResponseMinutes = 400
			So(e.Score(fast), ShouldBeGreaterThan, e.Score(slow))
		})
	})
}

func TestAnalyze(t *testing.T) {
	e := mustEngine()

	Convey("Given a gold contractor", t, func() {
		m := tier.Metrics{Rating: 4.5, CompletedJobs: 60, PhotoQuality: 85, ResponseMinutes: 90, OnTimeRate: 88, SatisfactionRate: 92}
		a := e.Analyze(m)

		Convey("Then the next tier is platinum with non-negative gaps", func() {
			So(a.Tier, ShouldEqual, tier.Gold)
			So(a.Next, ShouldNotBeNil)
			So(*a.Next, ShouldEqual, tier.Platinum)
			So(a.Gaps[tier.MetricCompletedJobs], ShouldEqual, 40.0)
			So(a.Gaps[tier.MetricRating], ShouldAlmostEqual, 0.1, 1e-9)
			So(a.Gaps[tier.MetricResponseMinutes], ShouldEqual, 30.0)
			for _, g := range a.Gaps {
				So(g, ShouldBeGreaterThanOrEqualTo, 0)
			}
		})

		Convey("Then met metrics are strengths and the rest weaknesses", func() {
			So(a.Strengths, ShouldContain, tier.MetricPhotoQuality)
			So(a.Strengths, ShouldContain, tier.MetricSatisfactionRate)
			So(a.Weaknesses, ShouldContain, tier.MetricOnTimeRate)
			So(len(a.Strengths)+len(a.Weaknesses), ShouldEqual, len(tier.AllMetrics))
		})
	})

	Convey("Given a top-tier contractor", t, func() {
		a := e.Analyze(top)

		Convey("Then there is no next tier and no gaps", func() {
			So(a.Tier, ShouldEqual, tier.Diamond)
			So(a.Next, ShouldBeNil)
			So(a.Gaps, ShouldBeEmpty)
			So(len(a.Strengths), ShouldEqual, len(tier.AllMetrics))
		})
	})
}

func TestProfileValidation(t *testing.T) {
	Convey("Given malformed profiles", t, func() {
		Convey("When empty", func() {
			_, err := tier.NewEngine(tier.Profile{})
			So(err, ShouldWrap, tier.ErrInvalidProfile)
		})

		Convey("When a percentage is out of range", func() {
			p := tier.DefaultProfile()
			p.Levels[0].Discount = 120
			_, err := tier.NewEngine(p)
			So(errkind.IsConfig(err), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "discount")
		})

		Convey("When a level is duplicated", func() {
			p := tier.DefaultProfile()
			p.Levels[1].ID = tier.Diamond
			_, err := tier.NewEngine(p)
			So(err, ShouldWrap, tier.ErrInvalidProfile)
		})
	})

	Convey("Given the default profile", t, func() {
		p := tier.DefaultProfile()
		d, err := p.Discount(tier.Gold)
		So(err, ShouldBeNil)
		So(d, ShouldEqual, 10.0)
		So(p.Priority(tier.Diamond), ShouldEqual, 100.0)
	})
}
