package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spigell/job-autopilot/internal/headhunter"
)

// StaticProvider serves a fixed list of listings.
type StaticProvider []JobListing

func (p StaticProvider) Load(context.Context) ([]JobListing, error) {
	out := make([]JobListing, len(p))
	for i, job := range p {
		out[i] = job.Clone()
	}
	return out, nil
}

// sampleJob is the on-disk format of the sample jobs file.
type sampleJob struct {
	ID          string   `json:"id"`
	Source      string   `json:"source"`
	Title       string   `json:"title"`
	Company     string   `json:"company"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Remote      *bool    `json:"remote"`
	RemoteType  string   `json:"remote_type"`
	SalaryMin   *float64 `json:"salary_min"`
	SalaryMax   *float64 `json:"salary_max"`
	Skills      []string `json:"skills"`
	Keywords    []string `json:"keywords"`
	Culture     []string `json:"culture"`
	URL         string   `json:"url"`
	Notes       string   `json:"notes"`
}

func (s sampleJob) listing() JobListing {
	remote := strings.EqualFold(strings.TrimSpace(s.RemoteType), "remote")
	if s.Remote != nil {
		remote = *s.Remote
	}

	source := s.Source
	if source == "" {
		source = "sample"
	}

	description := s.Description
	if description == "" {
		description = s.Notes
	}

	return JobListing{
		ID:          s.ID,
		Title:       s.Title,
		Company:     s.Company,
		Description: description,
		Location:    s.Location,
		Remote:      remote,
		SalaryMin:   s.SalaryMin,
		SalaryMax:   s.SalaryMax,
		Keywords:    append(append([]string{}, s.Keywords...), s.Skills...),
		CultureTags: s.Culture,
		URL:         s.URL,
		Source:      source,
	}
}

// FileProvider reads listings from a JSON array on disk. A missing file yields an empty catalog.
type FileProvider struct {
	Path string
}

func (p FileProvider) Load(context.Context) ([]JobListing, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sample jobs %q: %w", p.Path, err)
	}

	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	var samples []sampleJob
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("parse sample jobs %q: %w", p.Path, err)
	}

	jobs := make([]JobListing, 0, len(samples))
	for _, s := range samples {
		jobs = append(jobs, s.listing())
	}
	return jobs, nil
}

// vacancySearcher is the part of the hh.ru client the provider needs.
type vacancySearcher interface {
	Search(ctx context.Context, params *headhunter.SearchParams) (*headhunter.Vacancies, error)
}

// HeadhunterProvider loads listings from an hh.ru vacancy search.
// Vacancies that require a test or are archived cannot be applied to and are skipped.
type HeadhunterProvider struct {
	Client vacancySearcher
	Params *headhunter.SearchParams
}

func (p HeadhunterProvider) Load(ctx context.Context) ([]JobListing, error) {
	if p.Client == nil {
		return nil, fmt.Errorf("headhunter client is not configured")
	}

	var params *headhunter.SearchParams
	if p.Params != nil {
		copied := *p.Params
		params = &copied
	}

	vacancies, err := p.Client.Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("search vacancies: %w", err)
	}

	jobs := make([]JobListing, 0, vacancies.Len())
	for _, v := range vacancies.Items {
		if v == nil || v.HasTest || v.Archived {
			continue
		}
		jobs = append(jobs, vacancyListing(v))
	}
	return jobs, nil
}

func vacancyListing(v *headhunter.Vacancy) JobListing {
	job := JobListing{
		ID:          v.ID,
		Title:       v.Name,
		Company:     v.Employer.Name,
		Description: v.Text(),
		Location:    v.Area.Name,
		Remote:      v.IsRemote(),
		Keywords:    v.SkillNames(),
		URL:         v.AlternateURL,
		Source:      "headhunter",
	}
	if v.Salary.From > 0 {
		from := float64(v.Salary.From)
		job.SalaryMin = &from
	}
	if v.Salary.To > 0 {
		to := float64(v.Salary.To)
		job.SalaryMax = &to
	}
	return job
}
