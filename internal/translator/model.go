package translator

import "strings"

// ModelMap resolves inbound Claude model identifiers onto the two
// configured backend tiers. Resolution is case-insensitive and total:
// unknown names fall through to the big tier.
type ModelMap struct {
	Big   string
	Small string
}

// Resolve maps a requested model name to a backend model name.
func (m ModelMap) Resolve(requested string) string {
	name := strings.ToLower(strings.TrimSpace(requested))
	if strings.Contains(name, "haiku") {
		return m.Small
	}
	// sonnet, opus and anything unrecognized land on the big tier.
	return m.Big
}
