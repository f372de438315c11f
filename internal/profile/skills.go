package profile

import (
	"sort"

	"github.com/spigell/job-autopilot/internal/keywords"
)

var skillVocabulary = map[string]bool{
	"python":     true,
	"javascript": true,
	"typescript": true,
	"sql":        true,
	"aws":        true,
	"gcp":        true,
	"azure":      true,
	"docker":     true,
	"kubernetes": true,
	"django":     true,
	"fastapi":    true,
	"react":      true,
	"node":       true,
	"ml":         true,
	"nlp":        true,
	"go":         true,
	"golang":     true,
	"postgres":   true,
}

// ExtractSkills returns the known skills mentioned in a résumé, sorted.
func ExtractSkills(resumeText string) []string {
	found := make(map[string]bool)
	for _, token := range keywords.Tokenize(resumeText) {
		if skillVocabulary[token] {
			found[token] = true
		}
	}

	skills := make([]string, 0, len(found))
	for skill := range found {
		skills = append(skills, skill)
	}
	sort.Strings(skills)
	return skills
}
