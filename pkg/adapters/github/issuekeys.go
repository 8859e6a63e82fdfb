package github

import (
	"regexp"
	"strings"
)

// issueKeyPattern matches tracker keys like ABC-123 in free text.
var issueKeyPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]+-[0-9]+)\b`)

// branchPrefixes are stripped before scanning a branch name for issue keys,
// so feature/abc-123-fix-login still yields ABC-123.
var branchPrefixes = []string{"feature/", "bugfix/", "hotfix/", "release/", "fix/", "chore/"}

// IssueKeysFromText extracts unique tracker issue keys from free text.
func IssueKeysFromText(text string) []string {
	if text == "" {
		return nil
	}

	var keys []string
	seen := make(map[string]bool)
	for _, match := range issueKeyPattern.FindAllString(text, -1) {
		if !seen[match] {
			seen[match] = true
			keys = append(keys, match)
		}
	}
	return keys
}

// IssueKeysFromBranch extracts tracker issue keys from a branch name.
// Branch names are conventionally lowercase, so the scan is case-insensitive
// and keys are uppercased.
func IssueKeysFromBranch(branch string) []string {
	if branch == "" {
		return nil
	}

	name := strings.ToLower(branch)
	for _, prefix := range branchPrefixes {
		name = strings.TrimPrefix(name, prefix)
	}

	return IssueKeysFromText(strings.ToUpper(name))
}
