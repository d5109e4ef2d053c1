/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package session

import (
	"testing"

	"github.com/richardsmedley/cbcore/wire"
)

func TestStateIsNegotiating(t *testing.T) {
	for st := NegotiatingHello; st <= NegotiatingGetConfig; st++ {
		if !st.IsNegotiating() {
			t.Fatalf("%v should be negotiating", st)
		}
	}
	for _, st := range []State{Disconnected, Resolving, Connecting, Ready, Stopped} {
		if st.IsNegotiating() {
			t.Fatalf("%v should not be negotiating", st)
		}
	}
}

func TestStatusToErrorMapsKeyNotFound(t *testing.T) {
	err := wire.StatusError(wire.StatusKeyNotFound, nil)
	if err == nil {
		t.Fatal("expected error")
	}
}
