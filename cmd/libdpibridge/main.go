// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

// Command libdpibridge builds the shared library a simulator loads through
// SystemVerilog DPI-C:
//
//	go build -buildmode=c-shared -o libdpibridge.so ./cmd/libdpibridge
//
// The dpi_* names match existing import "DPI-C" declarations. Configuration
// comes from $DPIBRIDGE_CONFIG and DPIBRIDGE_* variables.
package main

/*
#include <stdint.h>
*/
import "C"

//export dpi_init_python
func dpi_init_python() C.int {
	return C.int(initialize())
}

//export initialize_bridge
func initialize_bridge() C.int {
	return C.int(initialize())
}

//export dpi_finalize_python
func dpi_finalize_python() {
	finalize()
}

//export finalize_bridge
func finalize_bridge() {
	finalize()
}

//export dpi_get_transaction
func dpi_get_transaction(simTime C.int64_t, isWrite, addr, data *C.int) C.int {
	w, a, d, ok := getTransaction(int64(simTime))
	if !ok {
		return 0
	}
	if isWrite != nil {
		*isWrite = C.int(w)
	}
	if addr != nil {
		*addr = C.int(a)
	}
	if data != nil {
		*data = C.int(d)
	}
	return 1
}

//export dpi_send_read_data
func dpi_send_read_data(simTime C.int64_t, data C.int) {
	sendReadData(int64(simTime), int32(data))
}

//export dpi_send_object
func dpi_send_object(tag, payload *C.char) {
	sendObject(goString(tag), goString(payload))
}

//export dpi_send_object_to
func dpi_send_object_to(name, tag, payload *C.char) {
	sendObjectTo(goString(name), goString(tag), goString(payload))
}

// goString copies a C string; NULL becomes "".
func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

func main() {}
