package workflow

import "encoding/json"

func encodeGuardResults(results []GuardResult) ([]byte, error) {
	if results == nil {
		results = []GuardResult{}
	}
	return json.Marshal(results)
}

func encodeMetadata(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	return json.Marshal(meta)
}
