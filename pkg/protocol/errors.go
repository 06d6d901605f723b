package protocol

import "fmt"

// CapabilityUnavailableError reports that an optional collaborator (search
// backend, generator, persistence) is not configured. Callers recover it into
// a neutral value; it is never surfaced as a run failure.
type CapabilityUnavailableError struct {
	Capability string
	Reason     string
}

func (e *CapabilityUnavailableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s unavailable", e.Capability)
	}
	return fmt.Sprintf("%s unavailable: %s", e.Capability, e.Reason)
}

// RecordNotFoundError reports a lookup of a (category, key) pair that does
// not exist. Mutations treat this as a no-op; read-only surfaces (HTTP, MCP)
// return it so the caller can render a 404.
type RecordNotFoundError struct {
	Category string
	Key      string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("record %s/%s not found", e.Category, e.Key)
}
