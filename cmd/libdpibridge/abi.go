// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"

	"github.com/dpibridge/dpibridge/internal/bridge"
	"github.com/dpibridge/dpibridge/pkg/errutil"
)

// CodeEntryPanic marks a panic caught at the C boundary.
const CodeEntryPanic = "ENTRY_POINT_PANIC"

// defaultBridge resolves the bridge every entry point talks to.
var defaultBridge = bridge.Default

// current returns the bridge, or nil when it could not be built. The failure
// is logged on every call so a broken configuration stays visible.
func current(ctx context.Context, op string) *bridge.Bridge {
	b, err := defaultBridge()
	if err != nil {
		errutil.LogErrorContext(ctx, slog.Default(), "bridge unavailable",
			oops.With("operation", op).Wrap(err))
		return nil
	}
	return b
}

// guard keeps Go panics from unwinding into the simulator.
func guard(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			errutil.LogError(slog.Default(), "entry point panicked",
				oops.In("abi").Code(CodeEntryPanic).
					With("operation", op).
					Errorf("%s", fmt.Sprint(r)))
		}
	}()
	fn()
}

// initialize returns 0 on success and -1 on failure.
func initialize() (rc int) {
	rc = -1
	guard("initialize", func() {
		ctx := context.Background()
		b := current(ctx, "initialize")
		if b == nil {
			return
		}
		if err := b.Initialize(ctx); err != nil {
			return
		}
		rc = 0
	})
	return rc
}

func finalize() {
	guard("finalize", func() {
		ctx := context.Background()
		if b := current(ctx, "finalize"); b != nil {
			b.Finalize(ctx)
		}
	})
}

// getTransaction truncates addr and data to 32 bits, matching the C int
// out-parameters.
func getTransaction(simTime int64) (isWrite, addr, data int32, ok bool) {
	guard("get_transaction", func() {
		ctx := context.Background()
		b := current(ctx, "get_transaction")
		if b == nil {
			return
		}
		txn, found := b.GetTransaction(ctx, simTime)
		if !found {
			return
		}
		if txn.IsWrite {
			isWrite = 1
		}
		addr = int32(txn.Addr) //nolint:gosec // C int out-parameter
		data = int32(txn.Data) //nolint:gosec // C int out-parameter
		ok = true
	})
	return isWrite, addr, data, ok
}

func sendReadData(simTime int64, data int32) {
	guard("send_read_data", func() {
		ctx := context.Background()
		if b := current(ctx, "send_read_data"); b != nil {
			b.SendReadData(ctx, simTime, int64(data))
		}
	})
}

func sendObject(tag, payload string) {
	guard("send_object", func() {
		ctx := context.Background()
		if b := current(ctx, "send_object"); b != nil {
			b.SendObject(ctx, tag, payload)
		}
	})
}

func sendObjectTo(name, tag, payload string) {
	guard("send_object_to", func() {
		ctx := context.Background()
		if b := current(ctx, "send_object_to"); b != nil {
			b.SendObjectTo(ctx, name, tag, payload)
		}
	})
}
