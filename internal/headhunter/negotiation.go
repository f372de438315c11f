package headhunter

import (
	"context"
	"fmt"
)

const (
	apiNegotiationPath = "/negotiations"

	// ErrorCaptchaRequired is the error type hh.ru returns when a human check is needed.
	ErrorCaptchaRequired = "captcha_required"
)

// Apply creates a negotiation (an application) for the vacancy with the given résumé and message.
func (c *Client) Apply(ctx context.Context, resumeID, vacancyID, message string) error {
	apiURLMineNegotiations := fmt.Sprintf("%s%s", c.APIURL, apiNegotiationPath)

	data := map[string]string{
		"resume_id":  resumeID,
		"vacancy_id": vacancyID,
	}
	if message != "" {
		data["message"] = message
	}

	return c.postFormData(ctx, apiURLMineNegotiations, data)
}
