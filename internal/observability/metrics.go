// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the bridge's Prometheus metrics.
//
// All Record methods are safe on a nil *Metrics, so components can run
// without a metrics registry.
type Metrics struct {
	InvocationsTotal      *prometheus.CounterVec
	TransactionsTotal     *prometheus.CounterVec
	ObjectsTotal          *prometheus.CounterVec
	MalformedReturnsTotal *prometheus.CounterVec
	PluginStatus          *prometheus.GaugeVec
}

// NewMetrics creates and registers the bridge metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dpibridge_invocations_total",
				Help: "Total number of script function invocations by module, function and status",
			},
			[]string{"module", "function", "status"},
		),
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dpibridge_transactions_total",
				Help: "Total number of transaction polls by outcome",
			},
			[]string{"plugin", "kind"},
		),
		ObjectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dpibridge_objects_total",
				Help: "Total number of tagged objects forwarded by plugin and status",
			},
			[]string{"plugin", "status"},
		),
		MalformedReturnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dpibridge_malformed_returns_total",
				Help: "Total number of script return values rejected by the decoder",
			},
			[]string{"plugin"},
		),
		PluginStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dpibridge_plugin_status",
				Help: "Current plugin status (0=uninitialized, 1=initialized, 2=active, 3=error)",
			},
			[]string{"plugin"},
		),
	}

	reg.MustRegister(m.InvocationsTotal)
	reg.MustRegister(m.TransactionsTotal)
	reg.MustRegister(m.ObjectsTotal)
	reg.MustRegister(m.MalformedReturnsTotal)
	reg.MustRegister(m.PluginStatus)

	return m
}

// RecordInvocation counts one script call.
func (m *Metrics) RecordInvocation(module, function, status string) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(module, function, status).Inc()
}

// RecordTransaction counts one transaction poll; kind is read, write or none.
func (m *Metrics) RecordTransaction(plugin, kind string) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(plugin, kind).Inc()
}

// RecordObject counts one forwarded tagged object.
func (m *Metrics) RecordObject(plugin, status string) {
	if m == nil {
		return
	}
	m.ObjectsTotal.WithLabelValues(plugin, status).Inc()
}

// RecordMalformedReturn counts a rejected script return value.
func (m *Metrics) RecordMalformedReturn(plugin string) {
	if m == nil {
		return
	}
	m.MalformedReturnsTotal.WithLabelValues(plugin).Inc()
}

// SetPluginStatus publishes a plugin's lifecycle status.
func (m *Metrics) SetPluginStatus(plugin string, status int) {
	if m == nil {
		return
	}
	m.PluginStatus.WithLabelValues(plugin).Set(float64(status))
}
