package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

// Bundle is an externally supplied rule override file. It lets operators
// swap the CEL expressions without a rebuild; unset expressions keep the
// built-in defaults.
type Bundle struct {
	Name  string `json:"name"`
	Rules Rules  `json:"rules"`
}

// LoadBundle reads a JSON rule bundle from path. The expressions are not
// compiled here; NewEngine rejects invalid ones at startup.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("policy: parse bundle %q: %w", path, err)
	}
	return &b, nil
}
