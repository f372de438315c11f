package headhunter

type Vacancies struct {
	Items []*Vacancy
}

type Vacancy struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Area struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"area,omitempty"`
	HasTest bool `json:"has_test,omitempty"`
	Salary  struct {
		From     int    `json:"from,omitempty"`
		To       int    `json:"to,omitempty"`
		Currency string `json:"currency,omitempty"`
	} `json:"salary,omitempty"`
	Schedule struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"schedule,omitempty"`
	Employer struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"employer,omitempty"`
	AlternateURL string `json:"alternate_url,omitempty"`
	Description  string `json:"description,omitempty"`
	KeySkills    []struct {
		Name string `json:"name,omitempty"`
	} `json:"key_skills,omitempty"`
	Archived bool `json:"archived,omitempty"`
	Snippet  struct {
		Requirement    string `json:"requirement,omitempty"`
		Responsibility string `json:"responsibility,omitempty"`
	} `json:"snippet,omitempty"`
}

// ScheduleRemote is the hh.ru schedule id of remote vacancies.
const ScheduleRemote = "remote"

func (v *Vacancies) Len() int {
	return len(v.Items)
}

// IsRemote reports whether the vacancy allows fully remote work.
func (va *Vacancy) IsRemote() bool {
	return va.Schedule.ID == ScheduleRemote
}

// SkillNames returns the key skills of the vacancy.
func (va *Vacancy) SkillNames() []string {
	names := make([]string, 0, len(va.KeySkills))
	for _, s := range va.KeySkills {
		if s.Name != "" {
			names = append(names, s.Name)
		}
	}
	return names
}

// Text returns the description, or the search snippet when no description was fetched.
func (va *Vacancy) Text() string {
	if va.Description != "" {
		return va.Description
	}
	return va.Snippet.Requirement + " " + va.Snippet.Responsibility
}
