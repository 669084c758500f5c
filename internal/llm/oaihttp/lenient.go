package oaihttp

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// decodeLenient decodes upstream JSON, repairing truncated or sloppy bodies
// some compatible servers return on error paths.
func decodeLenient(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), out)
}
