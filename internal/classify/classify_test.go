package classify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassify(t *testing.T) {
	c := New([]string{"/health", " "})

	cases := []struct {
		name   string
		method string
		path   string
		header map[string]string
		want   Decision
	}{
		{"options", http.MethodOptions, "/users/list", nil, Decision{Closed: true, Reason: ReasonOptions}},
		{"websocket path", http.MethodGet, "/chat/websocket/room", nil, Decision{Closed: true, Reason: ReasonUpgrade}},
		{"upgrade header", http.MethodGet, "/stream", map[string]string{"Connection": "Upgrade", "Upgrade": "h2c"}, Decision{Closed: true, Reason: ReasonUpgrade}},
		{"excluded", http.MethodGet, "/health", nil, Decision{Closed: true, Reason: ReasonExcludedPath}},
		{"excluded is exact", http.MethodGet, "/health/deep", nil, Decision{}},
		{"recorded", http.MethodPost, "/users/login", nil, Decision{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(tc.method, tc.path, nil)
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}
			if got := c.Classify(r); got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestOptionsWinsOverExclusion(t *testing.T) {
	c := New([]string{"/health"})
	r := httptest.NewRequest(http.MethodOptions, "/health", nil)
	if d := c.Classify(r); d.Reason != ReasonOptions {
		t.Fatalf("expected options reason, got %q", d.Reason)
	}
}

func TestNonHTTP(t *testing.T) {
	r := httptest.NewRequest(http.MethodConnect, "/", nil)
	if !NonHTTP(r) {
		t.Fatal("expected CONNECT to be non-HTTP")
	}
	if NonHTTP(httptest.NewRequest(http.MethodGet, "/", nil)) {
		t.Fatal("expected GET to be HTTP")
	}
}

func TestDecisionRoundTripsThroughContext(t *testing.T) {
	if _, ok := DecisionFrom(context.Background()); ok {
		t.Fatal("expected no decision")
	}
	ctx := WithDecision(context.Background(), Decision{Closed: true, Reason: ReasonExcludedPath})
	d, ok := DecisionFrom(ctx)
	if !ok || !d.Closed || d.Reason != ReasonExcludedPath {
		t.Fatalf("unexpected decision %+v %v", d, ok)
	}
}
