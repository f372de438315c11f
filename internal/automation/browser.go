package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/spigell/job-autopilot/internal/application"
	"github.com/spigell/job-autopilot/internal/catalog"
	"github.com/spigell/job-autopilot/internal/logger"
	"github.com/spigell/job-autopilot/internal/profile"
)

const (
	DefaultSubmitSelector = `button[type=submit]`
	defaultSettleDelay    = 2 * time.Second
)

// captchaSelectors match the widgets of common human verification providers.
var captchaSelectors = []string{
	`iframe[src*='recaptcha']`,
	`input[name='captcha']`,
	`div.g-recaptcha`,
	`iframe[src*='hcaptcha']`,
}

// BrowserConfig controls the headless browser automator.
type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless"`
	SubmitSelector string        `mapstructure:"submit-selector"`
	SettleDelay    time.Duration `mapstructure:"settle-delay"`
}

// Browser fills and submits application forms in headless Chrome.
// Every attempt runs in its own tab of a shared browser process.
type Browser struct {
	cfg         BrowserConfig
	logger      *zap.Logger
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
}

var _ application.Automator = (*Browser)(nil)

// NewBrowser prepares the browser allocator. Chrome itself starts with the first attempt.
func NewBrowser(ctx context.Context, cfg BrowserConfig, log *zap.Logger) *Browser {
	if strings.TrimSpace(cfg.SubmitSelector) == "" {
		cfg.SubmitSelector = DefaultSubmitSelector
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)

	return &Browser{
		cfg:         cfg,
		logger:      logger.WithFields(log),
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
	}
}

// Close shuts the browser down.
func (b *Browser) Close() {
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
}

func (b *Browser) Attempt(ctx context.Context, p profile.CandidateProfile, job catalog.JobListing) application.Outcome {
	if strings.TrimSpace(job.URL) == "" {
		return application.Permanentf("job %q has no application url", job.ID)
	}

	tabCtx, cancelTab := chromedp.NewContext(b.allocCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	log := logger.WithPair(b.logger, p.UserID, job.ID).With(zap.String("url", job.URL))

	if err := chromedp.Run(tabCtx, chromedp.Navigate(job.URL), chromedp.WaitReady("body")); err != nil {
		return browserFailure(ctx, "open application page", err)
	}

	if found, err := b.captchaPresent(tabCtx); err != nil {
		return browserFailure(ctx, "inspect page", err)
	} else if found {
		return application.CaptchaDetected()
	}

	filled := 0
	for _, field := range formFields(p) {
		sel := fieldSelector(field.name)
		present, err := exists(tabCtx, sel)
		if err != nil {
			return browserFailure(ctx, "inspect form", err)
		}
		if !present {
			continue
		}
		if err := chromedp.Run(tabCtx, chromedp.SetValue(sel, field.value, chromedp.ByQuery)); err != nil {
			return browserFailure(ctx, fmt.Sprintf("fill %s", field.name), err)
		}
		filled++
	}
	log.Debug("form filled", zap.Int("fields", filled))

	present, err := exists(tabCtx, b.cfg.SubmitSelector)
	if err != nil {
		return browserFailure(ctx, "inspect form", err)
	}
	if !present {
		return application.Permanentf("submit control %q not found", b.cfg.SubmitSelector)
	}

	if err := chromedp.Run(tabCtx,
		chromedp.Click(b.cfg.SubmitSelector, chromedp.ByQuery),
		chromedp.Sleep(b.cfg.SettleDelay),
	); err != nil {
		return browserFailure(ctx, "submit form", err)
	}

	if found, err := b.captchaPresent(tabCtx); err != nil {
		return browserFailure(ctx, "inspect result", err)
	} else if found {
		return application.CaptchaDetected()
	}

	return application.Success()
}

func (b *Browser) captchaPresent(ctx context.Context) (bool, error) {
	for _, sel := range captchaSelectors {
		found, err := exists(ctx, sel)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

func exists(ctx context.Context, sel string) (bool, error) {
	var nodes []*cdp.Node
	if err := chromedp.Run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

type formField struct {
	name  string
	value string
}

// formFields lists the questionnaire answers in a stable order, followed by the résumé.
func formFields(p profile.CandidateProfile) []formField {
	var fields []formField
	if p.Questionnaire != nil {
		for name, value := range p.Questionnaire.Answers {
			fields = append(fields, formField{name: name, value: answerValue(value)})
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	if strings.TrimSpace(p.ResumeText) != "" {
		fields = append(fields, formField{name: "resume", value: p.ResumeText})
	}
	return fields
}

func answerValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, answerValue(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(val, ", ")
	default:
		return fmt.Sprint(val)
	}
}

func fieldSelector(name string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name)
	return fmt.Sprintf(`input[name="%s"], textarea[name="%s"]`, escaped, escaped)
}

// browserFailure maps driver errors to a transient outcome. Shutdown is
// reported as cancellation so the caller can requeue without counting.
func browserFailure(ctx context.Context, step string, err error) application.Outcome {
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return application.TransientFailure("timeout")
	case ctx.Err() != nil:
		return application.Transientf("cancelled during %s", step)
	default:
		return application.Transientf("%s: %v", step, err)
	}
}
