package conflict

import (
	"maps"
	"time"
)

// MergeRecords suggests a field-level merge: it starts from serverData and,
// when the client edit is newer than the server copy, overlays every non-nil
// client field. The result is a suggestion for a Merged resolution; it is
// applied automatically only when the caller opts in.
func MergeRecords(clientData, serverData map[string]any, clientTimestamp, serverTimestamp time.Time) map[string]any {
	merged := maps.Clone(serverData)
	if merged == nil {
		merged = make(map[string]any, len(clientData))
	}
	if !clientTimestamp.After(serverTimestamp) {
		return merged
	}
	for k, v := range clientData {
		if v == nil || serverManaged[k] {
			continue
		}
		merged[k] = v
	}
	return merged
}
