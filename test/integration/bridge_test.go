// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dpibridge/dpibridge/internal/bridge"
	"github.com/dpibridge/dpibridge/internal/config"
	"github.com/dpibridge/dpibridge/internal/observability"
	"github.com/dpibridge/dpibridge/internal/plugin"
	"github.com/dpibridge/dpibridge/internal/plugin/apb"
)

// simConfig points every path at the sample simulation directory.
func simConfig() config.Config {
	root, err := filepath.Abs(filepath.Join("..", "..", "examples", "sim"))
	Expect(err).NotTo(HaveOccurred())

	cfg := config.Default()
	cfg.Script.BasePaths = []string{root}
	cfg.Plugins.Dir = filepath.Join(root, "dpi_bridge", "plugins")
	cfg.Plugins.APB.SearchPath = filepath.Join(root, "tests")
	cfg.Plugins.Generic.SearchPath = filepath.Join(root, "dpi_bridge", "plugins", "generic", "parsers")
	return cfg
}

var _ = Describe("Bridge against the sample simulation", func() {
	var (
		ctx     context.Context
		logs    *bytes.Buffer
		metrics *observability.Metrics
		b       *bridge.Bridge
	)

	BeforeEach(func() {
		ctx = context.Background()
		logs = &bytes.Buffer{}
		metrics = observability.NewMetrics(prometheus.NewRegistry())
		logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
		b = bridge.New(simConfig(), bridge.WithLogger(logger), bridge.WithMetrics(metrics))
		Expect(b.Initialize(ctx)).To(Succeed())
	})

	AfterEach(func() {
		b.Finalize(ctx)
		Expect(b.Ready()).To(BeFalse())
	})

	It("registers the built-in plugins before discovered ones", func() {
		var names []string
		for _, p := range b.Plugins() {
			names = append(names, p.Name)
			Expect(p.Status).To(Equal(plugin.StatusInitialized))
		}
		Expect(names).To(Equal([]string{"apb", "generic", "axi-stream"}))
	})

	It("drives the APB sequence and feeds reads back", func() {
		regs := map[int64]int64{}
		var issued []apb.Transaction

		for cycle := int64(0); cycle < 16; cycle++ {
			txn, ok := b.GetTransaction(ctx, cycle)
			if !ok {
				continue
			}
			issued = append(issued, txn)
			if txn.IsWrite {
				regs[txn.Addr] = txn.Data
				continue
			}
			b.SendReadData(ctx, cycle, regs[txn.Addr])
		}

		Expect(issued).To(HaveLen(4))
		Expect(issued[0]).To(Equal(apb.Transaction{IsWrite: true, Addr: 0x1000, Data: 0xDEADBEEF}))
		Expect(issued[3].IsWrite).To(BeFalse())
		Expect(logs.String()).To(ContainSubstring("apb read @2: 0xDEADBEEF"))
		Expect(logs.String()).To(ContainSubstring("apb read @3: 0x00C0FFEE"))
		Expect(testutil.ToFloat64(metrics.TransactionsTotal.WithLabelValues("apb", "write"))).To(BeEquivalentTo(2))
		Expect(testutil.ToFloat64(metrics.TransactionsTotal.WithLabelValues("apb", "read"))).To(BeEquivalentTo(2))
	})

	It("routes tagged objects by pattern with the generic plugin as catch-all", func() {
		b.SendObject(ctx, "axi.tdata", "cafe:1")
		b.SendObject(ctx, "uart", `{"byte": 85}`)
		b.SendObject(ctx, "axi.tdata", "not a beat")

		out := logs.String()
		Expect(out).To(ContainSubstring("axi.tdata beat 1 data=cafe last=1"))
		Expect(out).To(ContainSubstring("object uart #1 (12 bytes)"))
		Expect(out).To(ContainSubstring("malformed beat: not a beat"))
		Expect(testutil.ToFloat64(metrics.ObjectsTotal.WithLabelValues("axi-stream", "error"))).To(BeEquivalentTo(1))
	})

	It("reports nothing after finalize", func() {
		b.Finalize(ctx)

		_, ok := b.GetTransaction(ctx, 0)
		Expect(ok).To(BeFalse())
		Expect(logs.String()).To(ContainSubstring(plugin.CodeUninitializedUse))
	})
})
