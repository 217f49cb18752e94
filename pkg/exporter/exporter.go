/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package exporter exposes mesh node state as Prometheus metrics, adapted
// from the teacher library's TCPInfoCollector: a custom prometheus.Collector
// that walks a set of tracked objects and emits metrics for the live state
// of each one, rather than pre-registering fixed gauges per object.
package exporter

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// NodeStats is the subset of a mesh node's live state the collector reads
// on every scrape. cmd/meshcore-scenario adapts *meshnode.Node into this
// shape so this package stays independent of meshnode.
type NodeStats struct {
	RxCount         int64
	TxCount         int64
	FwdCount        int64
	ErrCount        int64
	AdvTxCount      int64
	AdvRxCount      int64
	MailboxOccupied int
	MailboxTotal    int
	SeenNodes       int
}

// Source supplies a snapshot of one node's stats at scrape time.
type Source func() NodeStats

// NodeCollector is a prometheus.Collector over a dynamic set of mesh
// nodes, keyed by name, the same shape as the teacher's net.Conn-keyed
// TCPInfoCollector.
type NodeCollector struct {
	mu    sync.Mutex
	nodes map[string]Source

	rxDesc, txDesc, fwdDesc, errDesc      *prometheus.Desc
	advTxDesc, advRxDesc                  *prometheus.Desc
	mailboxOccupiedDesc, mailboxTotalDesc *prometheus.Desc
	seenNodesDesc                         *prometheus.Desc
	errorLogger                           func(error)
}

// NewNodeCollector returns a NodeCollector whose metric names are prefixed
// with prefix and which attaches constLabels to every exported sample,
// matching the teacher's NewTCPInfoCollector(prefix, labels, constLabels, cb)
// constructor shape.
func NewNodeCollector(prefix string, constLabels prometheus.Labels, errorLoggingCallback func(error)) *NodeCollector {
	labelNames := []string{"node"}
	mk := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prefix+"_"+name, help, labelNames, constLabels)
	}

	return &NodeCollector{
		nodes:               make(map[string]Source),
		rxDesc:              mk("rx_total", "Total packets received"),
		txDesc:              mk("tx_total", "Total packets transmitted"),
		fwdDesc:             mk("fwd_total", "Total packets forwarded"),
		errDesc:             mk("err_total", "Total processing errors"),
		advTxDesc:           mk("advert_tx_total", "Total adverts transmitted"),
		advRxDesc:           mk("advert_rx_total", "Total adverts received"),
		mailboxOccupiedDesc: mk("mailbox_occupied", "Occupied mailbox slots"),
		mailboxTotalDesc:    mk("mailbox_total", "Total mailbox slots"),
		seenNodesDesc:       mk("seen_nodes", "Distinct neighbours currently tracked"),
		errorLogger:         errorLoggingCallback,
	}
}

// Describe implements prometheus.Collector.
func (c *NodeCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.rxDesc
	descs <- c.txDesc
	descs <- c.fwdDesc
	descs <- c.errDesc
	descs <- c.advTxDesc
	descs <- c.advRxDesc
	descs <- c.mailboxOccupiedDesc
	descs <- c.mailboxTotalDesc
	descs <- c.seenNodesDesc
}

// Collect implements prometheus.Collector, reading a fresh snapshot from
// each registered node's Source on every scrape. A source that panics is
// logged via errorLogger and skipped rather than taking down the scrape.
func (c *NodeCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, source := range c.nodes {
		c.collectOne(metrics, name, source)
	}
}

func (c *NodeCollector) collectOne(metrics chan<- prometheus.Metric, name string, source Source) {
	defer func() {
		if r := recover(); r != nil && c.errorLogger != nil {
			c.errorLogger(panicError{name: name, v: r})
		}
	}()

	s := source()

	metrics <- prometheus.MustNewConstMetric(c.rxDesc, prometheus.CounterValue, float64(s.RxCount), name)
	metrics <- prometheus.MustNewConstMetric(c.txDesc, prometheus.CounterValue, float64(s.TxCount), name)
	metrics <- prometheus.MustNewConstMetric(c.fwdDesc, prometheus.CounterValue, float64(s.FwdCount), name)
	metrics <- prometheus.MustNewConstMetric(c.errDesc, prometheus.CounterValue, float64(s.ErrCount), name)
	metrics <- prometheus.MustNewConstMetric(c.advTxDesc, prometheus.CounterValue, float64(s.AdvTxCount), name)
	metrics <- prometheus.MustNewConstMetric(c.advRxDesc, prometheus.CounterValue, float64(s.AdvRxCount), name)
	metrics <- prometheus.MustNewConstMetric(c.mailboxOccupiedDesc, prometheus.GaugeValue, float64(s.MailboxOccupied), name)
	metrics <- prometheus.MustNewConstMetric(c.mailboxTotalDesc, prometheus.GaugeValue, float64(s.MailboxTotal), name)
	metrics <- prometheus.MustNewConstMetric(c.seenNodesDesc, prometheus.GaugeValue, float64(s.SeenNodes), name)
}

// Add registers a node under name, to be scraped via source on every
// Collect call.
func (c *NodeCollector) Add(name string, source Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[name] = source
}

// Remove stops exporting metrics for name.
func (c *NodeCollector) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, name)
}

type panicError struct {
	name string
	v    any
}

func (p panicError) Error() string {
	return "exporter: panic reading stats for node " + p.name
}
