package util

import (
	"regexp"
	"strings"
)

var reSlugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify normalizes a name for use in an entity id
// ("Hall Temperature" -> "hall_temperature").
func Slugify(name string) string {
	slug := strings.ToLower(name)
	slug = reSlugInvalid.ReplaceAllString(slug, "_")
	return strings.Trim(slug, "_")
}
