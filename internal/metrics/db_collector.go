package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBStatFunc reports connection counts. It lets the collector cover both the
// pgx pool and database/sql without importing either.
type DBStatFunc func() (open, idle, inUse int)

type dbCollector struct {
	statFunc DBStatFunc
	driver   string

	openDesc  *prometheus.Desc
	idleDesc  *prometheus.Desc
	inUseDesc *prometheus.Desc
}

// NewDBCollector creates a collector exposing connection gauges labelled
// with the database driver.
func NewDBCollector(driver string, statFunc DBStatFunc) prometheus.Collector {
	labels := prometheus.Labels{"driver": driver}
	return &dbCollector{
		statFunc:  statFunc,
		driver:    driver,
		openDesc:  prometheus.NewDesc("paygate_db_open_conns", "Open database connections.", nil, labels),
		idleDesc:  prometheus.NewDesc("paygate_db_idle_conns", "Idle database connections.", nil, labels),
		inUseDesc: prometheus.NewDesc("paygate_db_in_use_conns", "Database connections in use.", nil, labels),
	}
}

func (c *dbCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openDesc
	ch <- c.idleDesc
	ch <- c.inUseDesc
}

func (c *dbCollector) Collect(ch chan<- prometheus.Metric) {
	open, idle, inUse := c.statFunc()
	ch <- prometheus.MustNewConstMetric(c.openDesc, prometheus.GaugeValue, float64(open))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(idle))
	ch <- prometheus.MustNewConstMetric(c.inUseDesc, prometheus.GaugeValue, float64(inUse))
}
