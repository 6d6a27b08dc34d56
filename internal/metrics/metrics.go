package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	Provides         Counter
	Withdrawals      Counter
	OptionsSold      Counter
	OptionsExercised Counter
	OptionsExpired   Counter
	Distributions    Counter
	Claims           Counter

	TotalBalance  Gauge
	LockedBalance Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		Provides:         n,
		Withdrawals:      n,
		OptionsSold:      n,
		OptionsExercised: n,
		OptionsExpired:   n,
		Distributions:    n,
		Claims:           n,
		TotalBalance:     g,
		LockedBalance:    g,
	}
}
