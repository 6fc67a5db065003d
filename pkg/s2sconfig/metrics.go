package s2sconfig

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	loadResultOK      = "ok"
	loadResultPartial = "partial"
	loadResultFailed  = "failed"
)

var (
	configLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xmpp_s2s_config_loads_total",
		Help: "Total number of configuration loads, by result",
	}, []string{"result"})
	configuredDomains = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xmpp_s2s_config_domains",
		Help: "Number of domains in the current configuration",
	})
)
