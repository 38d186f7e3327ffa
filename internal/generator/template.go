package generator

import (
	"context"
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/model"
)

// TemplateGenerator fills fixed stage templates. It never calls out, so it
// is the provider for local runs and the fallback when no model is configured.
type TemplateGenerator struct {
	Sender       Sender
	CalendarLink string
}

var _ Generator = (*TemplateGenerator)(nil)

var stageTemplates = map[model.Stage]Email{
	model.StageDrip1: {
		Subject: "An idea for {company}",
		Body: `Hi {first_name},

I have been looking at what {company} is doing in {industry} and think there is room to sharpen how you reach and convert new customers.

We have helped similar teams turn that into measurable pipeline. Would a short call next week be useful?

Best regards,
{sender_name}
{sender_company}`,
	},
	model.StageDrip2: {
		Subject: "A quick example for {company}",
		Body: `Hi {first_name},

One recent {industry} client came to us with a similar challenge. Within one quarter their qualified leads grew by a third after we reworked their funnel.

Happy to walk you through what we changed.

Best regards,
{sender_name}
{sender_company}`,
	},
	model.StageDrip3: {
		Subject: "Closing the loop",
		Body: `Hi {first_name},

This will be my last note on this topic for now. Thank you for your time, and if the timing is ever right for {company}, my inbox is open.

Best regards,
{sender_name}
{sender_company}`,
	},
	model.StageReply: {
		Body: `Hi {first_name},

Thank you for getting back to me, it is great to hear from you. The easiest next step is a brief introductory call so I can learn more about {company}.

You can book a convenient time on my calendar here: {calendar_link}

Best regards,
{sender_name}
{sender_company}`,
	},
}

const replyWithQueries = `Hi {first_name},

Thank you for getting back to me. You asked:

{queries}

Those are good questions, and the honest answer depends on how {company} works today. I would rather answer them properly on a brief introductory call than guess here.

You can book a convenient time on my calendar here: {calendar_link}

Best regards,
{sender_name}
{sender_company}`

func quoteLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "> " + strings.TrimSpace(l)
	}
	return strings.Join(lines, "\n")
}

func (t *TemplateGenerator) Generate(ctx context.Context, req Request) (Email, error) {
	tpl, ok := stageTemplates[req.Stage]
	if !ok {
		return Email{}, &appErrors.GenerationError{Stage: string(req.Stage), Err: fmt.Errorf("no template for stage")}
	}
	if err := ctx.Err(); err != nil {
		return Email{}, &appErrors.GenerationError{Stage: string(req.Stage), Err: err}
	}

	data := map[string]string{
		"first_name":     FirstName(req.Contact.Name),
		"company":        orDefault(req.Contact.CompanyName, "your team"),
		"industry":       orDefault(req.Contact.Industry, "your industry"),
		"sender_name":    t.Sender.Name,
		"sender_company": t.Sender.Company,
		"calendar_link":  t.CalendarLink,
	}
	subject, body := tpl.Subject, tpl.Body
	if req.Stage == model.StageReply {
		subject = ReplySubject(req.ReplySubject)
		if q := strings.TrimSpace(req.Queries); q != "" {
			body = replyWithQueries
			data["queries"] = quoteLines(q)
		}
	}
	return Email{Subject: RenderTemplate(subject, data), Body: RenderTemplate(body, data)}, nil
}

// InferIndustry has nothing to infer from without a model.
func (t *TemplateGenerator) InferIndustry(ctx context.Context, companyName, companyURL string) (string, error) {
	return "", &appErrors.GenerationError{Stage: "industry", Err: fmt.Errorf("template provider cannot infer industry")}
}

// RenderTemplate replaces {key} placeholders with values from data.
func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
