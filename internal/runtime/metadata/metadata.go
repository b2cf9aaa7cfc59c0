package metadata

// Metadata represents the headers carried alongside an event.
type Metadata map[string]string

// Well-known header keys set by producers.
const (
	KeyEventKind     = "event_kind"
	KeyCorrelationID = "correlation_id"
	KeyProducer      = "producer"
)

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := make(Metadata, len(m)+1)
	for k, v := range m {
		cloned[k] = v
	}
	cloned[key] = value
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs. A trailing
// key without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
