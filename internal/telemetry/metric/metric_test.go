package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/meshstore/internal/shard"
)

type fakeSource struct {
	domain   string
	statuses []shard.Status
}

func (f fakeSource) Type() string             { return f.domain }
func (f fakeSource) Statuses() []shard.Status { return f.statuses }

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"meshstore_build_info", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition misses %s", want)
		}
	}
}

func TestShardCollector(t *testing.T) {
	c := NewShardCollector(
		fakeSource{domain: "config", statuses: []shard.Status{
			{Name: "config-default", Leader: true, Term: 3, LastIndex: 12, AppliedIndex: 11},
		}},
		fakeSource{domain: "operational", statuses: []shard.Status{
			{Name: "oper-one", Term: 2, LastIndex: 7, AppliedIndex: 7},
			{Name: "oper-two", Term: 2, LastIndex: 4, AppliedIndex: 4},
		}},
	)

	if n := testutil.CollectAndCount(c); n != 12 {
		t.Errorf("metrics = %d, want 12", n)
	}

	want := `
# HELP meshstore_shard_leader Whether this node leads the shard.
# TYPE meshstore_shard_leader gauge
meshstore_shard_leader{datastore="config",shard="config-default"} 1
meshstore_shard_leader{datastore="operational",shard="oper-one"} 0
meshstore_shard_leader{datastore="operational",shard="oper-two"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want), "meshstore_shard_leader"); err != nil {
		t.Error(err)
	}

	r := NewRegistry()
	if err := r.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
}
