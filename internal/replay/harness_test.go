package replay

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/felixkranz/aps/internal/controller"
	"github.com/felixkranz/aps/internal/events"
	"github.com/felixkranz/aps/internal/observation"
	"github.com/felixkranz/aps/internal/partition"
	"github.com/felixkranz/aps/internal/theta"
)

var replayStart = time.Date(2026, 4, 5, 10, 0, 0, 0, time.UTC)

// helper: the three-level ladder used by most scenarios.
func ladder() []theta.Config {
	return []theta.Config{
		{ID: "search-passive", ChannelID: "search", Level: theta.LevelNominal, PartitionID: "search-coarse", Protocol: theta.ProtocolPassive},
		{ID: "search-confirm", ChannelID: "search", Level: theta.LevelDegraded, PartitionID: "search-coarse", Protocol: theta.ProtocolConfirm},
		{ID: "search-crosscheck", ChannelID: "search", Level: theta.LevelCritical, PartitionID: "search-coarse", Protocol: theta.ProtocolCrosscheck},
	}
}

// helper: one classified observation on the search channel.
func obsAt(at time.Time, out partition.Symbol) observation.Observation {
	return observation.Observation{
		ChannelID:  "search",
		SigmaIn:    "query",
		SigmaOut:   out,
		ObservedAt: at,
	}
}

// helper: ten clean observations then ten refusals, one every 30s. With a
// one-minute cycle the decision logic escalates to degraded on cycle 6
// (rate 2/12) and on to critical on cycle 7 (rate 4/14).
func burstScenario() Scenario {
	var obs []observation.Observation
	for i := 0; i < 20; i++ {
		out := partition.Symbol("answer")
		if i >= 10 {
			out = "refusal"
		}
		obs = append(obs, obsAt(replayStart.Add(time.Duration(i)*30*time.Second), out))
	}
	return Scenario{
		Channel: "search",
		Goal: controller.Goal{
			ID:       "search-operational",
			Tier:     controller.TierOperational,
			Fails:    controller.FailureSymbols("refusal", "timeout"),
			Epsilon:  0.1,
			Window:   time.Hour,
			Channels: []string{"search"},
		},
		Tuning: controller.Tuning{
			MinObservations:    3,
			EscalateCooldown:   time.Minute,
			DeescalateCooldown: 5 * time.Minute,
		},
		Ladder:       ladder(),
		StartID:      "search-passive",
		Interval:     time.Minute,
		Observations: obs,
	}
}

// 1. Failure burst: stepped escalation nominal->degraded->critical.
func TestRunEscalatesOnFailureBurst(t *testing.T) {
	res, err := Run(burstScenario())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(res.Steps) != 10 {
		t.Fatalf("expected 10 steps, got %d", len(res.Steps))
	}
	if len(res.Transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %+v", res.Transitions)
	}

	first := res.Transitions[0]
	if first.Direction != events.DirectionEscalate || first.FromTheta != "search-passive" || first.ToTheta != "search-confirm" {
		t.Errorf("first transition = %+v", first)
	}
	if first.FromLevel != theta.LevelNominal || first.ToLevel != theta.LevelDegraded {
		t.Errorf("first levels = %d -> %d", first.FromLevel, first.ToLevel)
	}
	if math.Abs(first.TriggerRate-2.0/12.0) > 1e-9 {
		t.Errorf("first trigger rate = %v, want 2/12", first.TriggerRate)
	}
	if want := replayStart.Add(6 * time.Minute); !first.SwitchedAt.Equal(want) {
		t.Errorf("first switched at %v, want %v", first.SwitchedAt, want)
	}

	second := res.Transitions[1]
	if second.FromTheta != "search-confirm" || second.ToTheta != "search-crosscheck" || second.ToLevel != theta.LevelCritical {
		t.Errorf("second transition = %+v", second)
	}

	if !res.Steps[5].Fired || res.Steps[5].Cycle != 6 {
		t.Errorf("step 6 = %+v", res.Steps[5])
	}
	if res.Steps[0].Decision.Direction != "" || res.Steps[0].Total != 2 {
		t.Errorf("step 1 = %+v", res.Steps[0])
	}
	if res.Final.ID != "search-crosscheck" {
		t.Errorf("final theta = %s", res.Final.ID)
	}

	sum := Summarize(res)
	if sum.Cycles != 10 || sum.Transitions != 2 || sum.Escalations != 2 || sum.Deescalations != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.FinalTheta != "search-crosscheck" {
		t.Errorf("summary final = %s", sum.FinalTheta)
	}
}

// 2. Matching recorded log: no divergences.
func TestRunMatchesRecordedSequence(t *testing.T) {
	sc := burstScenario()
	sc.Recorded = []events.EscalationRecord{
		{ChannelID: "search", Direction: events.DirectionEscalate, FromTheta: "search-passive", ToTheta: "search-confirm", SwitchedAt: replayStart.Add(6 * time.Minute)},
		{ChannelID: "search", Direction: events.DirectionEscalate, FromTheta: "search-confirm", ToTheta: "search-crosscheck", SwitchedAt: replayStart.Add(7 * time.Minute)},
	}

	res, err := Run(sc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Divergences) != 0 {
		t.Errorf("divergences = %+v", res.Divergences)
	}
	if res.Recorded != 2 {
		t.Errorf("recorded = %d, want 2", res.Recorded)
	}
}

// 3. Recorded log disagrees: mismatch at index 0 plus a replay-only extra.
func TestRunReportsDivergence(t *testing.T) {
	sc := burstScenario()
	// The recorded log claims one straight jump to critical; the replay
	// fires two stepped transitions.
	sc.Recorded = []events.EscalationRecord{
		{ChannelID: "search", Direction: events.DirectionEscalate, FromTheta: "search-passive", ToTheta: "search-crosscheck", SwitchedAt: replayStart.Add(6 * time.Minute)},
	}

	res, err := Run(sc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Divergences) != 2 {
		t.Fatalf("divergences = %+v", res.Divergences)
	}

	first := res.Divergences[0]
	if first.Index != 0 || first.Replayed == nil || first.Recorded == nil {
		t.Errorf("first divergence = %+v", first)
	}
	if !strings.Contains(first.Detail, "search-confirm") || !strings.Contains(first.Detail, "search-crosscheck") {
		t.Errorf("first detail = %q", first.Detail)
	}

	second := res.Divergences[1]
	if second.Index != 1 || second.Replayed == nil || second.Recorded != nil {
		t.Errorf("second divergence = %+v", second)
	}
}

// 4. Manual overrides are applied to replay state and excluded from the diff;
// the manual switch still arms the de-escalation cooldown.
func TestRunAppliesManualOverride(t *testing.T) {
	var obs []observation.Observation
	for i := 0; i <= 24; i++ {
		obs = append(obs, obsAt(replayStart.Add(time.Duration(i)*30*time.Second), "answer"))
	}
	sc := Scenario{
		Channel: "search",
		Goal: controller.Goal{
			ID:       "search-operational",
			Tier:     controller.TierOperational,
			Fails:    controller.FailureSymbols("refusal"),
			Epsilon:  0.1,
			Window:   time.Hour,
			Channels: []string{"search"},
		},
		Tuning: controller.Tuning{
			MinObservations:    3,
			EscalateCooldown:   time.Minute,
			DeescalateCooldown: 5 * time.Minute,
		},
		Ladder:       ladder(),
		StartID:      "search-passive",
		Interval:     time.Minute,
		Observations: obs,
		Recorded: []events.EscalationRecord{
			{ChannelID: "search", Direction: events.DirectionManual, FromTheta: "search-passive", ToTheta: "search-confirm", SwitchedAt: replayStart.Add(150 * time.Second)},
			{ChannelID: "search", Direction: events.DirectionDeescalate, FromTheta: "search-confirm", ToTheta: "search-passive", SwitchedAt: replayStart.Add(8 * time.Minute)},
		},
	}

	res, err := Run(sc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Steps[2].Theta != "search-confirm" {
		t.Errorf("cycle 3 theta = %s, want search-confirm", res.Steps[2].Theta)
	}
	if res.Steps[2].Fired {
		t.Error("cycle 3 fired inside de-escalation cooldown")
	}
	if !strings.Contains(res.Steps[2].Decision.Reason, "cooldown") {
		t.Errorf("cycle 3 reason = %q", res.Steps[2].Decision.Reason)
	}

	if len(res.Transitions) != 1 {
		t.Fatalf("transitions = %+v", res.Transitions)
	}
	rec := res.Transitions[0]
	if rec.Direction != events.DirectionDeescalate || rec.FromTheta != "search-confirm" || rec.ToTheta != "search-passive" {
		t.Errorf("transition = %+v", rec)
	}
	if want := replayStart.Add(8 * time.Minute); !rec.SwitchedAt.Equal(want) {
		t.Errorf("switched at %v, want %v", rec.SwitchedAt, want)
	}

	if len(res.Divergences) != 0 {
		t.Errorf("divergences = %+v", res.Divergences)
	}
	if res.Recorded != 1 {
		t.Errorf("recorded = %d, want 1 (manual excluded)", res.Recorded)
	}
}

// 5. Critical-tier goals decide on the failure UCB, not the raw rate.
func TestRunCriticalTierUsesUCB(t *testing.T) {
	var obs []observation.Observation
	for i := 0; i < 6; i++ {
		out := partition.Symbol("answer")
		if i == 5 {
			out = "refusal"
		}
		obs = append(obs, obsAt(replayStart.Add(time.Duration(i)*30*time.Second), out))
	}
	for i := range obs {
		obs[i].ChannelID = "payments"
	}
	sc := Scenario{
		Channel: "payments",
		Goal: controller.Goal{
			ID:       "payments-critical",
			Tier:     controller.TierCritical,
			Fails:    controller.FailureSymbols("refusal"),
			Epsilon:  0,
			Window:   time.Hour,
			Channels: []string{"payments"},
		},
		Tuning: controller.Tuning{
			MinObservations:  3,
			EscalateCooldown: time.Minute,
			Confidence:       0.95,
		},
		Ladder: []theta.Config{
			{ID: "pay-passive", ChannelID: "payments", Level: theta.LevelNominal, PartitionID: "pay-coarse", Protocol: theta.ProtocolPassive},
			{ID: "pay-crosscheck", ChannelID: "payments", Level: theta.LevelCritical, PartitionID: "pay-coarse", Protocol: theta.ProtocolCrosscheck},
		},
		StartID:      "pay-passive",
		Interval:     time.Minute,
		Observations: obs,
	}

	res, err := Run(sc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// A clean window under epsilon 0 must not escalate on the UCB floor.
	if res.Steps[1].Decision.Direction != "" {
		t.Errorf("clean cycle escalated: %+v", res.Steps[1])
	}

	if len(res.Transitions) != 1 {
		t.Fatalf("transitions = %+v", res.Transitions)
	}
	rec := res.Transitions[0]
	if rec.ToTheta != "pay-crosscheck" || rec.ToLevel != theta.LevelCritical {
		t.Errorf("transition = %+v", rec)
	}
	if rec.TriggerRate <= 1.0/6.0 {
		t.Errorf("trigger rate %v not above the raw rate 1/6", rec.TriggerRate)
	}
}

// 6. Scenario validation rejects broken inputs before simulating.
func TestRunValidation(t *testing.T) {
	sc := burstScenario()
	sc.Observations = nil
	if _, err := Run(sc); err == nil {
		t.Error("expected error without observations")
	}

	sc = burstScenario()
	sc.StartID = "no-such-theta"
	if _, err := Run(sc); err == nil || !strings.Contains(err.Error(), "no-such-theta") {
		t.Errorf("start theta error = %v", err)
	}

	sc = burstScenario()
	sc.Channel = ""
	if _, err := Run(sc); err == nil {
		t.Error("expected error for empty channel")
	}

	sc = burstScenario()
	sc.Goal.Fails = nil
	if _, err := Run(sc); err == nil {
		t.Error("expected error for invalid goal")
	}
}

// 7. Deterministic: same scenario, same steps and transitions.
func TestRunDeterministic(t *testing.T) {
	first, err := Run(burstScenario())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	second, err := Run(burstScenario())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(first.Steps) != len(second.Steps) {
		t.Fatalf("step counts differ: %d vs %d", len(first.Steps), len(second.Steps))
	}
	for i := range first.Steps {
		if first.Steps[i].Effective != second.Steps[i].Effective || first.Steps[i].Fired != second.Steps[i].Fired {
			t.Errorf("cycle %d differs: %+v vs %+v", i+1, first.Steps[i], second.Steps[i])
		}
	}
	if first.Final.ID != second.Final.ID {
		t.Errorf("final thetas differ: %s vs %s", first.Final.ID, second.Final.ID)
	}
}
