package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"SiteLend/internal/observability"
	"SiteLend/internal/oracle"
	"SiteLend/internal/registry"
	"SiteLend/internal/server"
	"SiteLend/internal/site"
)

const unit = 1_000_000

// ==== Fixtures ====

type sinkCapture struct {
	conditions []string
	results    []*site.LiquidationResult
}

func (c *sinkCapture) sink(conditionID string, res *site.LiquidationResult) {
	c.conditions = append(c.conditions, conditionID)
	c.results = append(c.results, res)
}

func newTestServer(t *testing.T) (*httptest.Server, *oracle.Static, *observability.HealthChecker, *sinkCapture) {
	t.Helper()
	o := oracle.NewStatic(500_000, 500_000)
	s, err := site.New(site.Config{
		ConditionID: "cond-http",
		Params: site.RiskParams{
			MaxLtvBps:               7500,
			LiquidationThresholdBps: 8500,
			LiquidationTargetBps:    9000,
			LiquidationBonusBps:     500,
			GracePeriodSeconds:      3600,
		},
		Oracle: o,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new site: %v", err)
	}

	reg := registry.New()
	if err := reg.Add(s); err != nil {
		t.Fatalf("add site: %v", err)
	}

	health := observability.NewHealthChecker()
	capture := &sinkCapture{}
	srv := server.New("127.0.0.1:0", reg, health, nil, capture.sink, zerolog.Nop())

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, o, health, capture
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		t.Fatalf("decode response from %s: %v", path, err)
	}
	return resp, fields
}

func getJSON(t *testing.T, ts *httptest.Server, path string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode response from %s: %v", path, err)
		}
	}
	return resp
}

func intField(t *testing.T, fields map[string]json.RawMessage, key string) int64 {
	t.Helper()
	raw, ok := fields[key]
	if !ok {
		t.Fatalf("response missing %q field: %v", key, fields)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		t.Fatalf("field %q is not an integer: %v", key, err)
	}
	return n
}

// ==== Lending round trip ====

func TestServer_DepositBorrowPositionFlow(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	base := "/v1/sites/cond-http"

	resp, fields := postJSON(t, ts, base+"/deposit", map[string]interface{}{
		"user": "lender", "asset": "QUOTE", "amount": 1000 * unit,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lender deposit: got status %d", resp.StatusCode)
	}
	if got := intField(t, fields, "shares_minted"); got != 1000*unit {
		t.Errorf("lender shares: got %d, want %d", got, 1000*unit)
	}

	resp, _ = postJSON(t, ts, base+"/deposit", map[string]interface{}{
		"user": "alice", "asset": "YES", "amount": 1000 * unit,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("alice deposit: got status %d", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts, base+"/borrow", map[string]interface{}{
		"user": "alice", "amount": 300 * unit,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("borrow: got status %d", resp.StatusCode)
	}

	var pos site.PositionInfo
	getJSON(t, ts, base+"/positions/alice", &pos)
	if pos.DepositYes != 1000*unit {
		t.Errorf("deposit_yes: got %d, want %d", pos.DepositYes, 1000*unit)
	}
	if pos.Debt != 300*unit {
		t.Errorf("debt: got %d, want %d", pos.Debt, 300*unit)
	}
	if pos.Liquidatable {
		t.Error("healthy position reported liquidatable")
	}

	var info site.SiteInfo
	getJSON(t, ts, base, &info)
	if info.QuoteBorrowed != 300*unit {
		t.Errorf("quote_borrowed: got %d, want %d", info.QuoteBorrowed, 300*unit)
	}
}

func TestServer_MaxQueries(t *testing.T) {
	ts, _, _, _ := newTestServer(t)
	base := "/v1/sites/cond-http"

	postJSON(t, ts, base+"/deposit", map[string]interface{}{
		"user": "lender", "asset": "QUOTE", "amount": 1000 * unit,
	})
	postJSON(t, ts, base+"/deposit", map[string]interface{}{
		"user": "alice", "asset": "YES", "amount": 1000 * unit,
	})

	var out map[string]int64
	resp := getJSON(t, ts, base+"/positions/alice/max-borrowable", &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("max-borrowable: got status %d", resp.StatusCode)
	}
	// 1000 YES at 0.50 under a 75% cap.
	if out["max_borrowable"] != 375*unit {
		t.Errorf("max_borrowable: got %d, want %d", out["max_borrowable"], 375*unit)
	}

	resp = getJSON(t, ts, base+"/positions/alice/max-withdrawable?asset=YES", &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("max-withdrawable: got status %d", resp.StatusCode)
	}
	if out["max_withdrawable"] != 1000*unit {
		t.Errorf("max_withdrawable: got %d, want %d", out["max_withdrawable"], 1000*unit)
	}

	resp = getJSON(t, ts, base+"/positions/alice/max-withdrawable?asset=GOLD", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad asset: got status %d, want 400", resp.StatusCode)
	}
}

// ==== Error mapping ====

func TestServer_ErrorStatuses(t *testing.T) {
	ts, o, _, _ := newTestServer(t)
	base := "/v1/sites/cond-http"

	resp := getJSON(t, ts, "/v1/sites/cond-missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown site: got status %d, want 404", resp.StatusCode)
	}

	resp = getJSON(t, ts, base+"/positions/nobody", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user: got status %d, want 404", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts, base+"/deposit", map[string]interface{}{
		"user": "alice", "asset": "GOLD", "amount": unit,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad asset: got status %d, want 400", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts, base+"/deposit", map[string]interface{}{
		"user": "alice", "asset": "YES", "amount": -1,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative amount: got status %d, want 400", resp.StatusCode)
	}

	postJSON(t, ts, base+"/deposit", map[string]interface{}{
		"user": "lender", "asset": "QUOTE", "amount": 1000 * unit,
	})
	postJSON(t, ts, base+"/deposit", map[string]interface{}{
		"user": "alice", "asset": "YES", "amount": 1000 * unit,
	})

	// Over the 375 cap from TestServer_MaxQueries.
	resp, _ = postJSON(t, ts, base+"/borrow", map[string]interface{}{
		"user": "alice", "amount": 400 * unit,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("insolvent borrow: got status %d, want 409", resp.StatusCode)
	}

	o.SetFresh(false)
	resp, _ = postJSON(t, ts, base+"/borrow", map[string]interface{}{
		"user": "alice", "amount": 100 * unit,
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("stale price: got status %d, want 503", resp.StatusCode)
	}
}

// ==== Liquidation history sink ====

func TestServer_LiquidationFeedsSink(t *testing.T) {
	ts, o, _, capture := newTestServer(t)
	base := "/v1/sites/cond-http"

	postJSON(t, ts, base+"/deposit", map[string]interface{}{
		"user": "lender", "asset": "QUOTE", "amount": 1000 * unit,
	})
	postJSON(t, ts, base+"/deposit", map[string]interface{}{
		"user": "alice", "asset": "YES", "amount": 1000 * unit,
	})
	postJSON(t, ts, base+"/borrow", map[string]interface{}{
		"user": "alice", "amount": 375 * unit,
	})

	// Collateral drops to 400 against 375 of debt, past the 85% threshold.
	o.Update(400_000, 600_000)

	resp, _ := postJSON(t, ts, base+"/liquidate", map[string]interface{}{
		"liquidator": "bob", "user": "alice", "repay_amount": 375 * unit,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("liquidate: got status %d", resp.StatusCode)
	}

	if len(capture.results) != 1 {
		t.Fatalf("sink received %d results, want 1", len(capture.results))
	}
	if capture.conditions[0] != "cond-http" {
		t.Errorf("sink condition: got %q, want %q", capture.conditions[0], "cond-http")
	}
	res := capture.results[0]
	if res.User != "alice" || res.Liquidator != "bob" {
		t.Errorf("sink result users: got %q/%q, want alice/bob", res.User, res.Liquidator)
	}
	if res.DebtRepaid != 375*unit {
		t.Errorf("debt repaid: got %d, want %d", res.DebtRepaid, 375*unit)
	}
}

// ==== Site listing and health endpoints ====

func TestServer_ListSitesAndProbes(t *testing.T) {
	ts, _, health, _ := newTestServer(t)

	var listing map[string][]string
	getJSON(t, ts, "/v1/sites", &listing)
	want := []string{"cond-http"}
	if got := listing["sites"]; len(got) != 1 || got[0] != want[0] {
		t.Errorf("sites: got %v, want %v", got, want)
	}

	resp := getJSON(t, ts, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: got status %d, want 200", resp.StatusCode)
	}

	resp = getJSON(t, ts, "/readyz", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready: got status %d, want 503", resp.StatusCode)
	}
	health.SetReady(true)
	resp = getJSON(t, ts, "/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz after ready: got status %d, want 200", resp.StatusCode)
	}
}

// ==== Resolution over HTTP ====

func TestServer_ResolutionEndpoints(t *testing.T) {
	ts, o, _, _ := newTestServer(t)
	base := "/v1/sites/cond-http"

	// The oracle has not resolved, so entering resolution is rejected.
	resp, _ := postJSON(t, ts, base+"/resolution/handle", map[string]interface{}{})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("premature handle: got status %d, want 409", resp.StatusCode)
	}

	o.Resolve(site.SideYes)
	resp, fields := postJSON(t, ts, base+"/resolution/handle", map[string]interface{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("handle: got status %d", resp.StatusCode)
	}
	if string(fields["status"]) != `"resolving"` {
		t.Errorf("handle status: got %s, want \"resolving\"", fields["status"])
	}

	resp, _ = postJSON(t, ts, base+"/resolution/dispute", map[string]string{"reason": "oracle mismatch"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dispute: got status %d", resp.StatusCode)
	}

	resp, fields = postJSON(t, ts, base+"/resolution/resume", map[string]string{"winner": "NO"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume: got status %d", resp.StatusCode)
	}
	if string(fields["status"]) != `"resolving"` {
		t.Errorf("resume status: got %s, want \"resolving\"", fields["status"])
	}

	var info site.SiteInfo
	getJSON(t, ts, base, &info)
	if info.State != "RESOLVING" {
		t.Errorf("state: got %q, want %q", info.State, "RESOLVING")
	}
	if info.WinningSide != "NO" {
		t.Errorf("winning side: got %q, want %q", info.WinningSide, "NO")
	}
}
