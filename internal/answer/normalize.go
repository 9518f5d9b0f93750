package answer

import (
	"strings"

	"github.com/spigell/autoapply/internal/utils"
)

// Normalize is the cache and rule-matching form of a field label.
func Normalize(label string) string {
	return strings.ToLower(utils.CollapseSpaces(label))
}

func containsAll(label string, keywords []string) bool {
	for _, keyword := range keywords {
		if !strings.Contains(label, keyword) {
			return false
		}
	}
	return len(keywords) > 0
}

func containsAny(label string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(label, keyword) {
			return true
		}
	}
	return false
}
