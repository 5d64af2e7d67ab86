package rotation

import (
	"testing"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(t *testing.T, s string) domain.Date {
	t.Helper()
	d, err := domain.ParseDate(s)
	require.NoError(t, err)
	return d
}

func videos(ids ...string) []domain.Video {
	out := make([]domain.Video, len(ids))
	for i, id := range ids {
		out[i] = domain.Video{ID: id, ContentID: "c1", URL: "https://cdn/" + id + ".mp4", Order: i}
	}
	return out
}

func withDefault(vs []domain.Video, id string) []domain.Video {
	for i := range vs {
		vs[i].IsDefault = vs[i].ID == id
	}
	return vs
}

func cycleRule(ids ...string) domain.RotationRule {
	return domain.RotationRule{ContentID: "c1", Kind: domain.RuleKindDailyCycle, CycleIDs: ids}
}

func TestEvaluate_DailyCycleIndexesByEpochDay(t *testing.T) {
	now := time.Date(2024, 12, 26, 12, 0, 0, 0, time.UTC)
	require.Equal(t, int64(1), domain.DateOf(now, time.UTC).DaysSinceEpoch()%3)

	sel := Evaluate(Input{
		Now:       now,
		ContentID: "c1",
		Rules:     []domain.RotationRule{cycleRule("V1", "V2", "V3")},
		Videos:    videos("V1", "V2", "V3"),
	})

	assert.Equal(t, "V2", sel.VideoID)
	assert.Equal(t, domain.ReasonDailyCycle, sel.Reason)
	assert.Equal(t, "2024-12-26", sel.Date.String())
}

func TestEvaluate_DateSpecificMatchesElseFallsBack(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	rule := domain.RotationRule{
		ContentID:  "c1",
		Kind:       domain.RuleKindDateSpecific,
		DateVideos: []domain.DateVideo{{Date: date(t, "2024-12-25"), VideoID: "VChristmas"}},
	}
	vs := withDefault(videos("VDefault", "VChristmas"), "VDefault")

	christmas := Evaluate(Input{
		Now: time.Date(2024, 12, 25, 10, 0, 0, 0, paris), ContentID: "c1", Location: paris,
		Rules: []domain.RotationRule{rule}, Videos: vs,
	})
	assert.Equal(t, "VChristmas", christmas.VideoID)
	assert.Equal(t, domain.ReasonDateSpecific, christmas.Reason)

	boxingDay := Evaluate(Input{
		Now: time.Date(2024, 12, 26, 10, 0, 0, 0, paris), ContentID: "c1", Location: paris,
		Rules: []domain.RotationRule{rule}, Videos: vs,
	})
	assert.Equal(t, "VDefault", boxingDay.VideoID)
	assert.Equal(t, domain.ReasonDefault, boxingDay.Reason)
}

func TestEvaluate_DateSpecificUsesTimezoneCalendarDay(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	rule := domain.RotationRule{
		ContentID: "c1", Kind: domain.RuleKindDateSpecific, Timezone: "Asia/Tokyo",
		DateVideos: []domain.DateVideo{{Date: date(t, "2024-12-25"), VideoID: "VChristmas"}},
	}

	// 16:00 UTC on the 24th is already the 25th in Tokyo.
	sel := Evaluate(Input{
		Now: time.Date(2024, 12, 24, 16, 0, 0, 0, time.UTC), ContentID: "c1",
		Rules: []domain.RotationRule{rule}, Videos: videos("VChristmas"),
	})

	assert.Equal(t, "VChristmas", sel.VideoID)
	assert.Equal(t, domain.DateOf(time.Date(2024, 12, 25, 1, 0, 0, 0, tokyo), tokyo), sel.Date)
}

func TestEvaluate_NoMatchWithoutDefaultSelectsNothing(t *testing.T) {
	rule := domain.RotationRule{
		ContentID: "c1", Kind: domain.RuleKindDateSpecific,
		DateVideos: []domain.DateVideo{{Date: date(t, "2024-12-25"), VideoID: "V1"}},
	}

	sel := Evaluate(Input{
		Now: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC), ContentID: "c1",
		Rules: []domain.RotationRule{rule}, Videos: videos("V1", "V2"),
	})

	assert.False(t, sel.Found())
	assert.Equal(t, domain.ReasonNoActiveVideo, sel.Reason)
	assert.Empty(t, sel.VideoID)
}

func TestEvaluate_NoRulesFallsBackToDefault(t *testing.T) {
	now := time.Date(2024, 12, 26, 12, 0, 0, 0, time.UTC)

	sel := Evaluate(Input{Now: now, ContentID: "c1", Videos: withDefault(videos("V1", "V2"), "V2")})
	assert.Equal(t, "V2", sel.VideoID)
	assert.Equal(t, domain.ReasonDefault, sel.Reason)

	empty := Evaluate(Input{Now: now, ContentID: "c1"})
	assert.Equal(t, domain.ReasonNoActiveVideo, empty.Reason)
}

func TestEvaluate_Precedence(t *testing.T) {
	now := time.Date(2024, 12, 25, 12, 0, 0, 0, time.UTC) // day index mod 3 == 0
	vs := withDefault(videos("V1", "V2", "V3", "VXmas", "VDefault"), "VDefault")
	dated := domain.RotationRule{
		ContentID: "c1", Kind: domain.RuleKindDateSpecific,
		DateVideos: []domain.DateVideo{{Date: date(t, "2024-12-25"), VideoID: "VXmas"}},
	}
	random := domain.RotationRule{ContentID: "c1", Kind: domain.RuleKindRandomDaily, PoolIDs: []string{"V3"}}

	tests := []struct {
		name   string
		rules  []domain.RotationRule
		want   string
		reason domain.SelectionReason
	}{
		{name: "date specific beats cycle", rules: []domain.RotationRule{random, cycleRule("V1", "V2", "V3"), dated}, want: "VXmas", reason: domain.ReasonDateSpecific},
		{name: "cycle beats random", rules: []domain.RotationRule{random, cycleRule("V1", "V2", "V3")}, want: "V1", reason: domain.ReasonDailyCycle},
		{name: "random beats default", rules: []domain.RotationRule{random}, want: "V3", reason: domain.ReasonRandomDaily},
		{name: "empty cycle falls through to random", rules: []domain.RotationRule{cycleRule(), random}, want: "V3", reason: domain.ReasonRandomDaily},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := Evaluate(Input{Now: now, ContentID: "c1", Rules: tt.rules, Videos: vs})
			assert.Equal(t, tt.want, sel.VideoID)
			assert.Equal(t, tt.reason, sel.Reason)
		})
	}
}

func TestEvaluate_MissingOrInactiveSelectionFallsBack(t *testing.T) {
	now := time.Date(2024, 12, 25, 12, 0, 0, 0, time.UTC) // mod 3 == 0
	until := date(t, "2024-12-01")

	deleted := Evaluate(Input{
		Now: now, ContentID: "c1",
		Rules:  []domain.RotationRule{cycleRule("VDeleted", "V2", "V3")},
		Videos: withDefault(videos("V2", "V3", "VDefault"), "VDefault"),
	})
	assert.Equal(t, "VDefault", deleted.VideoID)
	assert.Equal(t, domain.ReasonDefault, deleted.Reason)

	vs := withDefault(videos("VExpired", "V2", "V3", "VDefault"), "VDefault")
	vs[0].ActiveUntil = &until
	expired := Evaluate(Input{Now: now, ContentID: "c1", Rules: []domain.RotationRule{cycleRule("VExpired", "V2", "V3")}, Videos: vs})
	assert.Equal(t, "VDefault", expired.VideoID)

	inactiveDefault := withDefault(videos("VDefault"), "VDefault")
	inactiveDefault[0].ActiveUntil = &until
	none := Evaluate(Input{Now: now, ContentID: "c1", Videos: inactiveDefault})
	assert.Equal(t, domain.ReasonNoActiveVideo, none.Reason)
}

func TestEvaluate_Deterministic(t *testing.T) {
	in := Input{
		Now:       time.Date(2024, 12, 25, 8, 0, 0, 0, time.UTC),
		ContentID: "c1",
		Rules:     []domain.RotationRule{{ContentID: "c1", Kind: domain.RuleKindRandomDaily}},
		Videos:    videos("V1", "V2", "V3", "V4", "V5"),
	}
	first := Evaluate(in)
	require.True(t, first.Found())

	for h := 0; h < 24; h++ {
		in.Now = time.Date(2024, 12, 25, h, 30, 0, 0, time.UTC)
		assert.Equal(t, first, Evaluate(in), "hour %d", h)
	}
}

func TestEvaluate_RolloverAtTimezoneMidnight(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	in := Input{
		ContentID: "c1",
		Location:  tokyo,
		Rules:     []domain.RotationRule{cycleRule("V1", "V2", "V3")},
		Videos:    videos("V1", "V2", "V3"),
	}

	var picks []string
	start := time.Date(2024, 12, 25, 0, 0, 0, 0, tokyo)
	for m := 0; m < 48*60; m += 15 {
		in.Now = start.Add(time.Duration(m) * time.Minute)
		sel := Evaluate(in)
		if len(picks) == 0 || picks[len(picks)-1] != sel.VideoID {
			picks = append(picks, sel.VideoID)
		}
	}
	assert.Equal(t, []string{"V1", "V2"}, picks, "exactly one flip across Tokyo midnight")

	in.Now = time.Date(2024, 12, 25, 23, 59, 59, 0, tokyo)
	assert.Equal(t, "V1", Evaluate(in).VideoID)
	in.Now = time.Date(2024, 12, 26, 0, 0, 0, 0, tokyo)
	assert.Equal(t, "V2", Evaluate(in).VideoID)
}

func TestEvaluate_RandomDailyEmptyPoolUsesActiveVideos(t *testing.T) {
	until := date(t, "2000-01-01")
	vs := videos("V1", "V2", "V3", "VOld")
	vs[3].ActiveUntil = &until
	rule := domain.RotationRule{ContentID: "c1", Kind: domain.RuleKindRandomDaily}

	seen := map[string]int{}
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for d := 0; d < 90; d++ {
		sel := Evaluate(Input{Now: start.AddDate(0, 0, d), ContentID: "c1", Rules: []domain.RotationRule{rule}, Videos: vs})
		require.Equal(t, domain.ReasonRandomDaily, sel.Reason)
		seen[sel.VideoID]++
	}

	assert.Zero(t, seen["VOld"], "inactive videos are never drawn")
	assert.Positive(t, seen["V1"])
	assert.Positive(t, seen["V2"])
	assert.Positive(t, seen["V3"])
}

func TestEvaluate_RandomDailyDependsOnContent(t *testing.T) {
	day := date(t, "2024-12-25")
	assert.NotEqual(t, DailySeed("c1", day), DailySeed("c2", day))
	assert.NotEqual(t, DailySeed("c1", day), DailySeed("c1", date(t, "2024-12-26")))
	assert.Equal(t, DailySeed("c1", day), DailySeed("c1", day))
}

func TestEvaluate_RandomDailyHonoursWeights(t *testing.T) {
	vs := videos("VHeavy", "VLight")
	vs[0].Weight = 1000
	vs[1].Weight = 1
	rule := domain.RotationRule{ContentID: "c1", Kind: domain.RuleKindRandomDaily, PoolIDs: []string{"VHeavy", "VLight", "VMissing"}}

	heavy := 0
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for d := 0; d < 30; d++ {
		sel := Evaluate(Input{Now: start.AddDate(0, 0, d), ContentID: "c1", Rules: []domain.RotationRule{rule}, Videos: vs})
		require.NotEqual(t, "VMissing", sel.VideoID)
		if sel.VideoID == "VHeavy" {
			heavy++
		}
	}
	assert.GreaterOrEqual(t, heavy, 25)
}
