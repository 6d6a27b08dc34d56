package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "optionpool"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(g)
		return g
	}

	m := &Metrics{
		Provides:         promCounter{counter("provides_total", "Total number of liquidity deposits.")},
		Withdrawals:      promCounter{counter("withdrawals_total", "Total number of tranche withdrawals.")},
		OptionsSold:      promCounter{counter("options_sold_total", "Total number of options written.")},
		OptionsExercised: promCounter{counter("options_exercised_total", "Total number of options exercised.")},
		OptionsExpired:   promCounter{counter("options_expired_total", "Total number of options expired unclaimed.")},
		Distributions:    promCounter{counter("staking_distributions_total", "Total number of staking reward distributions.")},
		Claims:           promCounter{counter("staking_claims_total", "Total number of staking profit claims.")},
		TotalBalance:     promGauge{gauge("pool_total_balance", "Current pool balance in asset units.")},
		LockedBalance:    promGauge{gauge("pool_locked_balance", "Collateral locked behind active options in asset units.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
