package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// ToWatermill converts event metadata into a Watermill map.
func ToWatermill(metadata Metadata) message.Metadata {
	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[k] = v
	}
	return wm
}

// LogFields picks the well-known keys worth attaching to a log line.
func LogFields(md message.Metadata) map[string]any {
	fields := make(map[string]any, 2)
	for _, key := range []string{KeyCorrelationID, KeyProducer} {
		if v := md.Get(key); v != "" {
			fields[key] = v
		}
	}
	return fields
}
