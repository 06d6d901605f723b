package protocol_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jenozu/orchestrator/pkg/protocol"
)

func TestCapabilityUnavailableError_ErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("search: %w", &protocol.CapabilityUnavailableError{
		Capability: protocol.CapabilitySearch,
		Reason:     "no index configured",
	})

	var target *protocol.CapabilityUnavailableError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to extract CapabilityUnavailableError")
	}
	if target.Capability != protocol.CapabilitySearch {
		t.Errorf("Capability = %q, want %q", target.Capability, protocol.CapabilitySearch)
	}

	want := "search: knowledge_retrieved unavailable: no index configured"
	if wrapped.Error() != want {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), want)
	}
}

func TestCapabilityUnavailableError_NoReason(t *testing.T) {
	err := &protocol.CapabilityUnavailableError{Capability: protocol.CapabilityGenerator}
	if got := err.Error(); got != "generator_available unavailable" {
		t.Errorf("Error() = %q", got)
	}
}

func TestRecordNotFoundError_Message(t *testing.T) {
	err := &protocol.RecordNotFoundError{Category: "fixes", Key: "abc"}
	if got := err.Error(); got != "record fixes/abc not found" {
		t.Errorf("Error() = %q", got)
	}

	var target *protocol.RecordNotFoundError
	if !errors.As(fmt.Errorf("lookup: %w", err), &target) {
		t.Fatal("errors.As failed to extract RecordNotFoundError")
	}
}
