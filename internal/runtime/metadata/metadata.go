// Package metadata holds the string headers carried next to task and result
// messages on broker transports.
package metadata

// Header keys used on queue transports.
const (
	KeyTaskID        = "hub_task_id"
	KeyAction        = "hub_action"
	KeyRecreatedFrom = "hub_recreated_from"
	KeyAccount       = "hub_account"
	KeyProvider      = "hub_provider"
	KeyAuthToken     = "hub_auth_token"
	KeyStatus        = "hub_status"
	KeyPayload       = "hub_payload"
	KeyExecutionID   = "hub_execution_id"
	KeyCorrelationID = "correlation_id"
	KeyTraceID       = "trace_id"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
// Empty values are skipped.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Bytes returns the value under key as bytes, nil when absent or empty.
func (m Metadata) Bytes(key string) []byte {
	v := m[key]
	if v == "" {
		return nil
	}
	return []byte(v)
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
