package stats

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/verte-zerg/punchsync/internal/model"
)

func TestRecordOutcomes(t *testing.T) {
	c := Counts{Total: 5}
	c.Record(model.Outcome{Kind: model.OutcomeDelivered, Status: "CREATED"})
	c.Record(model.Outcome{Kind: model.OutcomeDelivered, Status: "CREATED", Anomaly: "LATE_CHECKIN"})
	c.Record(model.Outcome{Kind: model.OutcomeDuplicate, Status: "DUPLICATE"})
	c.Record(model.Outcome{Kind: model.OutcomeSuppressed, Status: "DEBOUNCE_BLOCKED"})
	c.Record(model.Outcome{Kind: model.OutcomeFailed, Reason: "HTTP 500", Anomaly: "IGNORED"})

	if c.Total != 5 {
		t.Fatalf("expected total untouched, got %d", c.Total)
	}
	if c.Sent != 2 || c.Duplicates != 2 || c.Errors != 1 {
		t.Fatalf("unexpected counts: %+v", c)
	}
	if !reflect.DeepEqual(c.Anomalies, map[string]int{"LATE_CHECKIN": 1}) {
		t.Fatalf("unexpected anomalies: %v", c.Anomalies)
	}
}

func TestMergeSumsAndMergesAnomalies(t *testing.T) {
	var agg Counts
	agg.Merge(Counts{Total: 2, Sent: 1, Duplicates: 1, Anomalies: map[string]int{"LATE_CHECKIN": 1}})
	agg.Merge(Counts{Total: 3, Sent: 1, Errors: 2, Anomalies: map[string]int{"LATE_CHECKIN": 2, "EARLY_CHECKOUT": 1}})
	agg.Merge(Counts{})

	want := Counts{
		Total:      5,
		Sent:       2,
		Duplicates: 1,
		Errors:     2,
		Anomalies:  map[string]int{"LATE_CHECKIN": 3, "EARLY_CHECKOUT": 1},
	}
	if !reflect.DeepEqual(agg, want) {
		t.Fatalf("expected %+v, got %+v", want, agg)
	}
	if got := agg.AnomalyLabels(); !reflect.DeepEqual(got, []string{"EARLY_CHECKOUT", "LATE_CHECKIN"}) {
		t.Fatalf("unexpected label order: %v", got)
	}
}

func TestRenderSummaryGolden(t *testing.T) {
	s := Summary{
		Total: Counts{
			Total:      3,
			Sent:       2,
			Duplicates: 1,
			Anomalies:  map[string]int{"LATE_CHECKIN": 1, "EARLY_CHECKOUT": 1},
		},
		Terminals: []TerminalRow{
			{Name: "CP", Counts: Counts{Total: 2, Sent: 1, Duplicates: 1}},
			{Name: "CIT", Counts: Counts{Total: 1, Sent: 1}},
			{Name: "LAB", Err: "connect: i/o timeout"},
		},
	}
	var buf bytes.Buffer
	if err := RenderSummary(&buf, s); err != nil {
		t.Fatalf("render summary: %v", err)
	}
	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "summary", buf.Bytes())
}

func TestRenderSummaryEmptyGolden(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderSummary(&buf, Summary{}); err != nil {
		t.Fatalf("render summary: %v", err)
	}
	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "summary_empty", buf.Bytes())
}
