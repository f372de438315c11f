package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/errs"
	"github.com/spigell/job-autopilot/internal/evaluation"
	"github.com/spigell/job-autopilot/internal/filtering"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDecodeConfigDefaults(t *testing.T) {
	t.Parallel()

	v := viper.New()
	setDefaults(v)

	cfg, err := decodeConfig(v)
	require.NoError(t, err)

	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, "file", cfg.Catalog.Source)
	require.Equal(t, "data/sample_jobs.json", cfg.Catalog.File)
	require.Equal(t, 10, cfg.Evaluation.MaxResults)
	require.Equal(t, evaluation.DefaultWeights, cfg.Evaluation.Weights)
	require.Equal(t, application.DefaultConfig(), cfg.Orchestrator)
	require.Equal(t, "browser", cfg.Automation.Driver)
	require.True(t, cfg.Automation.Headless)
	require.NotNil(t, cfg.Apply)
	require.Equal(t, "me", cfg.Apply.User)
}

func TestDecodeConfigEnvOverride(t *testing.T) {
	t.Setenv("JOB_AUTOPILOT_ORCHESTRATOR_MAX_ATTEMPTS", "5")
	t.Setenv("JOB_AUTOPILOT_ORCHESTRATOR_BASE_BACKOFF", "1m")
	t.Setenv("JOB_AUTOPILOT_AUTOMATION_DRIVER", "scripted")

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	cfg, err := decodeConfig(v)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Orchestrator.MaxAttempts)
	require.Equal(t, time.Minute, cfg.Orchestrator.BaseBackoff)
	require.Equal(t, "scripted", cfg.Automation.Driver)
}

func TestDecodeConfigFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "job-autopilot.yaml", `
storage:
  driver: postgres
  dsn-file: /run/secrets/dsn
catalog:
  source: headhunter
  search:
    text: golang
    per_page: "50"
evaluation:
  max-results: 3
  min-score: 0.2
  exclude:
    companies: [Acme, Initech]
    file: excluded.json
orchestrator:
  workers: 4
  attempt-timeout: 30s
automation:
  driver: headhunter
  resume-id: r-1
ai:
  enabled: true
  gemini:
    model: gemini-2.5-pro
    max-retries: 2
metrics:
  addr: ":9090"
`)

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := decodeConfig(v)
	require.NoError(t, err)

	require.Equal(t, "postgres", cfg.Storage.Driver)
	require.Equal(t, "/run/secrets/dsn", cfg.Storage.DSNFile)
	require.NotNil(t, cfg.Catalog.Search)
	require.Equal(t, "golang", cfg.Catalog.Search.Text)
	require.Equal(t, "50", cfg.Catalog.Search.PerPage)
	require.Equal(t, 3, cfg.Evaluation.MaxResults)
	require.InDelta(t, 0.2, cfg.Evaluation.MinScore, 1e-9)
	require.Equal(t, []string{"Acme", "Initech"}, cfg.Evaluation.Exclude.Companies)
	require.Equal(t, "excluded.json", cfg.Evaluation.Exclude.File)
	require.Equal(t, 4, cfg.Orchestrator.Workers)
	require.Equal(t, 30*time.Second, cfg.Orchestrator.AttemptTimeout)
	require.Equal(t, 3, cfg.Orchestrator.MaxAttempts)
	require.Equal(t, "r-1", cfg.Automation.ResumeID)
	require.NotNil(t, cfg.AI)
	require.True(t, cfg.AI.Enabled)
	require.Equal(t, "gemini-2.5-pro", cfg.AI.Gemini.Model)
	require.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestDecodeConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		val  any
	}{
		{name: "storage driver", key: "storage.driver", val: "sqlite"},
		{name: "catalog source", key: "catalog.source", val: "ftp"},
		{name: "automation driver", key: "automation.driver", val: "selenium"},
		{name: "workers", key: "orchestrator.workers", val: 0},
		{name: "max attempts", key: "orchestrator.max-attempts", val: 0},
		{name: "stale claim", key: "orchestrator.stale-claim", val: "-1m"},
		{name: "max results", key: "evaluation.max-results", val: 0},
		{name: "min score", key: "evaluation.min-score", val: 1.5},
		{name: "ai provider", key: "ai.provider", val: "openai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := viper.New()
			setDefaults(v)
			v.Set(tt.key, tt.val)

			_, err := decodeConfig(v)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid config")
		})
	}
}

func TestLoadAnswers(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "answers.yaml", `
preferred_salary_min: 100000
preferred_salary_max: 150000
preferred_locations: [Berlin, Remote]
remote_ok: true
culture_keywords: [async]
`)

	answers, err := loadAnswers(path)
	require.NoError(t, err)
	require.Equal(t, 100000, answers["preferred_salary_min"])
	require.Equal(t, true, answers["remote_ok"])

	_, err = loadAnswers(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

const sampleJobsJSON = `[
  {"id": "go-remote", "source": "sample", "title": "Go Engineer", "company": "Acme",
   "location": "Remote", "remote_type": "remote", "salary_min": 120000, "salary_max": 160000,
   "skills": ["go", "kubernetes", "postgres"], "culture": ["async"], "url": "https://jobs.example/go"},
  {"id": "java-paris", "source": "sample", "title": "Java Developer", "company": "Initech",
   "location": "Paris", "remote_type": "onsite", "skills": ["java", "spring"]}
]`

func testConfig(t *testing.T) *Config {
	t.Helper()

	v := viper.New()
	setDefaults(v)
	v.Set("catalog.file", writeFile(t, "jobs.json", sampleJobsJSON))
	v.Set("automation.driver", "scripted")
	v.Set("orchestrator.poll-interval", 5*time.Millisecond)
	v.Set("orchestrator.base-backoff", time.Millisecond)
	v.Set("orchestrator.attempt-timeout", time.Second)

	cfg, err := decodeConfig(v)
	require.NoError(t, err)
	return cfg
}

func TestBuildEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Apply.Resume = writeFile(t, "resume.txt", "Backend engineer: Go, Kubernetes, Postgres. Remote async teams.")
	cfg.Apply.Questionnaire = writeFile(t, "answers.json", `{"remote_ok": true, "salary_min": 110000}`)

	rt, err := build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	userID := rt.user("")
	require.Equal(t, "me", userID)
	require.NoError(t, ensureProfile(ctx, rt, userID))

	p, err := rt.store.Profile(ctx, userID)
	require.NoError(t, err)
	require.True(t, p.HasQuestionnaire())

	matches, err := rt.service.Evaluate(ctx, userID, 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "go-remote", matches[0].JobID)

	stop := rt.startWorkers(ctx)
	defer stop()

	a, err := rt.service.Submit(ctx, userID, "go-remote")
	require.NoError(t, err)

	settle(ctx, rt, 5*time.Second)

	got, err := rt.orchestrator.Attempt(a.ID)
	require.NoError(t, err)
	require.Equal(t, application.StateSubmitted, got.State)

	// applied jobs drop out of the next evaluation
	matches, err = rt.service.Evaluate(ctx, userID, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "java-paris", matches[0].JobID)
}

func TestBuildRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Catalog.Source = "ftp"

	_, err := build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported catalog source")
}

func TestSessionAppendToExcludeFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "excluded.json")
	s := &session{
		rt: &runtime{config: &Config{}, logger: zap.NewNop()},
		matches: []evaluation.MatchResult{
			{JobID: "a", Company: "Acme", URL: "https://jobs.example/a"},
			{JobID: "b", Company: "Globex"},
		},
	}

	require.NoError(t, s.appendToExcludeFile(path))

	excluded, err := filtering.LoadExcluded(path)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"a": true, "b": true}, excluded.IDs())
}

func TestSessionFindAndDrop(t *testing.T) {
	t.Parallel()

	s := &session{matches: []evaluation.MatchResult{{JobID: "a"}, {JobID: "b"}, {JobID: "c"}}}

	m, ok := s.find("b")
	require.True(t, ok)
	require.Equal(t, "b", m.JobID)

	s.drop("b")
	_, ok = s.find("b")
	require.False(t, ok)
	require.Len(t, s.matches, 2)
}

func TestDumpToTmpFile(t *testing.T) {
	t.Parallel()

	name, err := dumpToTmpFile([]evaluation.MatchResult{{JobID: "a", Score: 0.5, Rank: 1}})
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(name) })

	data, err := os.ReadFile(name)
	require.NoError(t, err)

	var got []evaluation.MatchResult
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].JobID)
}

func TestMatchTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, matchTable(&buf, []evaluation.MatchResult{{Rank: 1, Score: 0.75, JobID: "a", Title: "Go", Company: "Acme"}}))
	require.Contains(t, buf.String(), "RANK")
	require.Contains(t, buf.String(), "0.750")
}

func TestDescribeError(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hint", describeError(errs.NotFound("user", "u")).Key)
	require.Equal(t, "hint", describeError(errs.Conflict("busy")).Key)
	require.Equal(t, zap.Skip(), describeError(context.Canceled))
}
