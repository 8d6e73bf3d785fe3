package flow

import "regexp"

// mentionPattern matches platform mention syntax like <@U12345>.
var mentionPattern = regexp.MustCompile(`<@([A-Za-z0-9]+)>`)

// ParseMentions extracts mentioned participant identities from free text,
// deduplicated in first-occurrence order, with the sender always appended
// last if not already mentioned. Identities in exclude are dropped; the bot's
// own mention is always present in app-mention text and must never become a
// recipient. The result is therefore never empty.
func ParseMentions(text, sender string, exclude ...string) []string {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		if id != "" {
			excluded[id] = true
		}
	}

	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches)+1)
	var out []string
	for _, m := range matches {
		id := m[1]
		if seen[id] || excluded[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if !seen[sender] {
		out = append(out, sender)
	}
	return out
}
