package stage

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"opal/internal/services"
)

// Decode unmarshals a message body into v. Malformed JSON is reported as
// services.ErrPoison so the message is dead-lettered instead of retried.
func Decode(stageName string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return services.Wrap(services.ErrPoison, stageName, "decode message", "payload is not valid JSON", err)
	}
	return nil
}

// Require reports blank required fields, keyed by wire name, as
// services.ErrPoison.
func Require(stageName string, fields map[string]string) error {
	var missing []string
	for field, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return services.Wrap(services.ErrPoison, stageName, "decode message",
		fmt.Sprintf("missing required field(s): %s", strings.Join(missing, ", ")), nil)
}
