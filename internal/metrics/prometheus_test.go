package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusScrape(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.Provides.Inc()
	prom.Metrics.OptionsSold.Inc()
	prom.Metrics.OptionsSold.Inc()
	prom.Metrics.TotalBalance.Set(10.5)

	srv := httptest.NewServer(prom.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := string(raw)
	for _, want := range []string{
		"optionpool_provides_total 1",
		"optionpool_options_sold_total 2",
		"optionpool_pool_total_balance 10.5",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("scrape output missing %q:\n%s", want, body)
		}
	}
}
