package vault

import (
	"encoding/json"
	"fmt"
	"os"
)

// ImportEntry is one element of the batch-import JSON array accepted by
// `vault add --from-file`.
type ImportEntry struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Description string `json:"description"`
}

// ImportFile reads a JSON array of credentials and stores each entry in
// the vault. Entries missing an id, username, or password are rejected
// before anything is written, so a malformed file imports nothing.
// Returns the number of credentials stored.
func (m *Manager) ImportFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("vault: failed to read import file: %w", err)
	}

	var entries []ImportEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("vault: import file is not a JSON array of credentials: %w", err)
	}

	for i, e := range entries {
		if e.ID == "" || e.Username == "" || e.Password == "" {
			return 0, fmt.Errorf("vault: import entry %d is missing id, username, or password", i)
		}
	}

	for _, e := range entries {
		if err := m.Set(e.ID, e.Username, e.Password, e.Description); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}
