package automation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spigell/job-autopilot/internal/ai"
	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/headhunter"
	"github.com/spigell/job-autopilot/internal/profile"
)

type fakeNegotiator struct {
	err      error
	resumeID string
	jobID    string
	message  string
}

func (f *fakeNegotiator) Apply(_ context.Context, resumeID, vacancyID, message string) error {
	f.resumeID, f.jobID, f.message = resumeID, vacancyID, message
	return f.err
}

type fakeWriter struct {
	letter *ai.Letter
	err    error
}

func (f fakeWriter) Write(context.Context, profile.CandidateProfile, catalog.JobListing) (*ai.Letter, error) {
	return f.letter, f.err
}

var hhJob = catalog.JobListing{ID: "123", Source: "headhunter"}

func TestScriptedFollowsScriptThenFallback(t *testing.T) {
	t.Parallel()

	s := NewScripted(application.Success()).
		Script("a", application.CaptchaDetected(), application.TransientFailure("flaky"))

	ctx := context.Background()
	p := profile.CandidateProfile{UserID: "u"}

	require.Equal(t, application.OutcomeCaptcha, s.Attempt(ctx, p, catalog.JobListing{ID: "a"}).Kind)
	require.Equal(t, application.OutcomeTransient, s.Attempt(ctx, p, catalog.JobListing{ID: "a"}).Kind)
	require.Equal(t, application.OutcomeSuccess, s.Attempt(ctx, p, catalog.JobListing{ID: "a"}).Kind)
	require.Equal(t, application.OutcomeSuccess, s.Attempt(ctx, p, catalog.JobListing{ID: "b"}).Kind)

	require.Equal(t, 3, s.CallCount("a"))
	require.Len(t, s.Calls(), 4)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Equal(t, application.OutcomeTransient, s.Attempt(cancelled, p, catalog.JobListing{ID: "b"}).Kind)
}

func TestClassifyAPIError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want application.OutcomeKind
	}{
		{name: "created", err: nil, want: application.OutcomeSuccess},
		{name: "captcha", err: &headhunter.APIError{StatusCode: 403, Types: []string{"negotiations", headhunter.ErrorCaptchaRequired}}, want: application.OutcomeCaptcha},
		{name: "already applied", err: &headhunter.APIError{StatusCode: 403, Types: []string{"negotiations", "already_applied"}}, want: application.OutcomeSuccess},
		{name: "rate limited", err: &headhunter.APIError{StatusCode: 429}, want: application.OutcomeTransient},
		{name: "server error", err: fmt.Errorf("post: %w", &headhunter.APIError{StatusCode: 502}), want: application.OutcomeTransient},
		{name: "rejected", err: &headhunter.APIError{StatusCode: 403, Types: []string{"negotiations", "test_required"}}, want: application.OutcomePermanent},
		{name: "network", err: errors.New("connection reset"), want: application.OutcomeTransient},
		{name: "deadline", err: fmt.Errorf("do: %w", context.DeadlineExceeded), want: application.OutcomeTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, classifyAPIError(tc.err).Kind)
		})
	}
}

func TestHeadhunterAttempt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := profile.CandidateProfile{UserID: "u", ResumeText: "go"}

	client := &fakeNegotiator{}
	h := NewHeadhunter(client, "resume-1", "Hello", nil, nil)
	require.Equal(t, application.OutcomeSuccess, h.Attempt(ctx, p, hhJob).Kind)
	require.Equal(t, "resume-1", client.resumeID)
	require.Equal(t, "123", client.jobID)
	require.Equal(t, "Hello", client.message)

	h = NewHeadhunter(client, "resume-1", "Hello", fakeWriter{letter: &ai.Letter{Message: "Tailored"}}, nil)
	h.Attempt(ctx, p, hhJob)
	require.Equal(t, "Tailored", client.message)

	h = NewHeadhunter(client, "resume-1", "Hello", fakeWriter{err: errors.New("quota")}, nil)
	h.Attempt(ctx, p, hhJob)
	require.Equal(t, "Hello", client.message)

	require.Equal(t, application.OutcomePermanent, NewHeadhunter(client, "", "", nil, nil).Attempt(ctx, p, hhJob).Kind)
	require.Equal(t, application.OutcomePermanent, NewHeadhunter(client, "r", "", nil, nil).Attempt(ctx, p, catalog.JobListing{ID: "x", Source: "sample"}).Kind)
}

func TestHeadhunterAttemptAgainstAPI(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("vacancy_id") == "captcha" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":[{"type":"negotiations","value":"captcha_required"}]}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := headhunter.New(nil, "token")
	client.APIURL = server.URL

	h := NewHeadhunter(client, "resume-1", "", nil, nil)
	p := profile.CandidateProfile{UserID: "u"}

	require.Equal(t, application.OutcomeSuccess, h.Attempt(context.Background(), p, hhJob).Kind)
	require.Equal(t, application.OutcomeCaptcha, h.Attempt(context.Background(), p, catalog.JobListing{ID: "captcha", Source: "headhunter"}).Kind)
}

func TestFormFields(t *testing.T) {
	t.Parallel()

	p := profile.CandidateProfile{
		ResumeText: "Go engineer",
		Questionnaire: &profile.Questionnaire{Answers: map[string]any{
			"salary_min": 130000,
			"locations":  []any{"Berlin", "Remote"},
			"email":      "me@example.com",
		}},
	}

	require.Equal(t, []formField{
		{name: "email", value: "me@example.com"},
		{name: "locations", value: "Berlin, Remote"},
		{name: "salary_min", value: "130000"},
		{name: "resume", value: "Go engineer"},
	}, formFields(p))

	require.Empty(t, formFields(profile.CandidateProfile{}))
}

func TestFieldSelector(t *testing.T) {
	t.Parallel()

	require.Equal(t, `input[name="email"], textarea[name="email"]`, fieldSelector("email"))
	require.Equal(t, `input[name="a\"b"], textarea[name="a\"b"]`, fieldSelector(`a"b`))
}

func TestBrowserFailure(t *testing.T) {
	t.Parallel()

	require.Equal(t, application.Transientf("navigate: %v", errors.New("boom")), browserFailure(context.Background(), "navigate", errors.New("boom")))

	expired, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-expired.Done()
	require.Equal(t, application.TransientFailure("timeout"), browserFailure(expired, "navigate", errors.New("boom")))
}

// TestBrowserAgainstLocalForm needs a Chrome binary and runs only when
// JOB_AUTOPILOT_BROWSER_TESTS is set.
func TestBrowserAgainstLocalForm(t *testing.T) {
	if os.Getenv("JOB_AUTOPILOT_BROWSER_TESTS") == "" {
		t.Skip("set JOB_AUTOPILOT_BROWSER_TESTS to run browser tests")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/form", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><form action="/done"><input name="email"><button type="submit">Send</button></form></body></html>`))
	})
	mux.HandleFunc("/captcha", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div class="g-recaptcha"></div></body></html>`))
	})
	mux.HandleFunc("/done", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>thanks</body></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	b := NewBrowser(ctx, BrowserConfig{Headless: true, SettleDelay: 100 * time.Millisecond}, nil)
	defer b.Close()

	p := profile.CandidateProfile{UserID: "u", Questionnaire: &profile.Questionnaire{Answers: map[string]any{"email": "me@example.com"}}}

	require.Equal(t, application.OutcomeSuccess, b.Attempt(ctx, p, catalog.JobListing{ID: "1", URL: server.URL + "/form"}).Kind)
	require.Equal(t, application.OutcomeCaptcha, b.Attempt(ctx, p, catalog.JobListing{ID: "2", URL: server.URL + "/captcha"}).Kind)
	require.Equal(t, application.OutcomePermanent, b.Attempt(ctx, p, catalog.JobListing{ID: "3"}).Kind)
}
