package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"SiteLend/internal/ingestion"
	"SiteLend/internal/site"
)

func marshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParsePriceUpdate(t *testing.T) {
	data := marshal(t, map[string]interface{}{
		"condition_id": "cond-eth-4k",
		"yes_price":    int64(650_000),
		"no_price":     int64(350_000),
		"timestamp":    time.Unix(1_700_000_000, 0).UTC(),
	})

	p, err := ingestion.ParsePriceUpdate(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if p.ConditionID != "cond-eth-4k" {
		t.Errorf("condition_id: got %s, want cond-eth-4k", p.ConditionID)
	}
	if p.YesPrice != 650_000 {
		t.Errorf("yes_price: got %d, want 650_000", p.YesPrice)
	}
	if p.NoPrice != 350_000 {
		t.Errorf("no_price: got %d, want 350_000", p.NoPrice)
	}
}

func TestParsePriceUpdate_BoundaryPrices(t *testing.T) {
	// 0 and par are both legal for a binary market side.
	data := marshal(t, map[string]interface{}{
		"condition_id": "cond-a",
		"yes_price":    int64(0),
		"no_price":     int64(1_000_000),
		"timestamp":    time.Unix(1_700_000_000, 0).UTC(),
	})
	if _, err := ingestion.ParsePriceUpdate(data); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
}

func TestParsePriceUpdate_Invalid(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"condition_id": "cond-a",
			"yes_price":    int64(500_000),
			"no_price":     int64(500_000),
			"timestamp":    time.Unix(1_700_000_000, 0).UTC(),
		}
	}
	cases := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"missing condition_id", func(m map[string]interface{}) { delete(m, "condition_id") }},
		{"negative yes_price", func(m map[string]interface{}) { m["yes_price"] = int64(-1) }},
		{"yes_price above par", func(m map[string]interface{}) { m["yes_price"] = int64(1_000_001) }},
		{"no_price above par", func(m map[string]interface{}) { m["no_price"] = int64(2_000_000) }},
		{"missing timestamp", func(m map[string]interface{}) { delete(m, "timestamp") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := base()
			tc.mutate(m)
			if _, err := ingestion.ParsePriceUpdate(marshal(t, m)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParsePriceUpdate_MalformedJSON(t *testing.T) {
	if _, err := ingestion.ParsePriceUpdate([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParseResolutionUpdate(t *testing.T) {
	data := marshal(t, map[string]interface{}{
		"condition_id": "cond-eth-4k",
		"winner":       "YES",
		"timestamp":    time.Unix(1_700_000_000, 0).UTC(),
	})

	r, err := ingestion.ParseResolutionUpdate(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if r.ConditionID != "cond-eth-4k" || r.Winner != "YES" {
		t.Errorf("parsed: %+v", r)
	}
}

func TestParseResolutionUpdate_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"missing condition_id", map[string]interface{}{
			"winner":    "YES",
			"timestamp": time.Unix(1_700_000_000, 0).UTC(),
		}},
		{"bad winner", map[string]interface{}{
			"condition_id": "cond-a",
			"winner":       "MAYBE",
			"timestamp":    time.Unix(1_700_000_000, 0).UTC(),
		}},
		{"missing timestamp", map[string]interface{}{
			"condition_id": "cond-a",
			"winner":       "NO",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ingestion.ParseResolutionUpdate(marshal(t, tc.payload)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseSide(t *testing.T) {
	cases := []struct {
		in      string
		want    site.Side
		wantErr bool
	}{
		{"YES", site.SideYes, false},
		{"NO", site.SideNo, false},
		{"yes", site.SideNone, true},
		{"", site.SideNone, true},
		{"NONE", site.SideNone, true},
	}
	for _, tc := range cases {
		got, err := ingestion.ParseSide(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseSide(%q) = (%s, %v), want (%s, wantErr=%v)", tc.in, got, err, tc.want, tc.wantErr)
		}
	}
}
