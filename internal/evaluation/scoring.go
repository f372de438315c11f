package evaluation

import (
	"math"
	"slices"
	"strings"

	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/keywords"
	"github.com/spigell/job-autopilot/internal/profile"
)

// keywordFit is |job keywords found in the résumé| / |job keywords|.
// It also returns the matched keywords and the gaps, both sorted.
func keywordFit(resumeTokens map[string]bool, jobKeywords []string) (float64, []string, []string) {
	set := keywords.Unique(jobKeywords)
	if len(set) == 0 {
		return 0, nil, nil
	}

	var overlap, gaps []string
	for _, kw := range set {
		if keywords.Contains(resumeTokens, kw) {
			overlap = append(overlap, kw)
		} else {
			gaps = append(gaps, kw)
		}
	}

	return clamp(float64(len(overlap)) / float64(len(set))), overlap, gaps
}

// salaryFit compares the candidate range with the job range.
// Containment either way scores 1, partial overlap scores the overlap width
// relative to the narrower range, disjoint ranges score 0, and a job without
// salary data (or a candidate without a salary preference) is neutral.
func salaryFit(q profile.Questionnaire, job catalog.JobListing) float64 {
	if !job.HasSalary() || !q.HasSalary() {
		return neutral
	}

	candLo, candHi := q.SalaryMin, q.SalaryMax
	if candHi <= 0 {
		candHi = math.Inf(1)
	}

	jobLo, jobHi := bounds(job.SalaryMin, job.SalaryMax)

	lo := math.Max(candLo, jobLo)
	hi := math.Min(candHi, jobHi)
	if lo > hi {
		return 0
	}

	narrow := math.Min(candHi-candLo, jobHi-jobLo)
	if narrow <= 0 || math.IsInf(narrow, 1) {
		return 1
	}

	return clamp((hi - lo) / narrow)
}

// bounds turns optional job bounds into a closed range; a single bound is a point.
func bounds(min, max *float64) (float64, float64) {
	switch {
	case min != nil && max != nil:
		return *min, *max
	case min != nil:
		return *min, *min
	default:
		return *max, *max
	}
}

// locationFit is 1 for a remote job and a remote-friendly candidate, or when
// the job location is one of the preferred locations.
func locationFit(q profile.Questionnaire, job catalog.JobListing) float64 {
	if job.Remote && q.RemoteOK {
		return 1
	}
	location := keywords.Normalize(job.Location)
	if location != "" && slices.Contains(q.PreferredLocations, location) {
		return 1
	}
	return 0
}

// cultureFit is |job keywords and culture tags ∩ culture keywords| / max(1, |culture keywords|).
func cultureFit(q profile.Questionnaire, job catalog.JobListing) float64 {
	wanted := keywords.Unique(q.CultureKeywords)

	offered := make(map[string]bool)
	for _, kw := range keywords.Unique(append(slices.Clone(job.Keywords), job.CultureTags...)) {
		offered[kw] = true
	}

	matched := 0
	for _, kw := range wanted {
		if offered[kw] || offered[strings.ReplaceAll(kw, " ", "-")] {
			matched++
		}
	}

	return clamp(float64(matched) / math.Max(1, float64(len(wanted))))
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// round keeps six decimals so equal inputs produce byte-identical scores.
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
