package generator

import (
	"fmt"
	"strings"

	"github.com/unclebandit/dripmail-backend/internal/model"
)

const outputRules = `Rules:
- Start with a greeting using the recipient's first name.
- Keep the body brief, two to four short paragraphs.
- No placeholders, square brackets, markdown or bold text.
- Do not write "just following up" or "checking in".
- No question mark in the subject line.

Output format: the subject line, then "|||", then the email body. Nothing before or after.`

func systemPrompt(s Sender) string {
	return fmt.Sprintf("You write outbound B2B emails as %s, %s at %s. Your tone is helpful, specific and respectful of the reader's time. Sign every email as:\nBest regards,\n%s\n%s",
		s.Name, s.Role, s.Company, s.Name, s.Company)
}

func recipientBlock(c model.Contact) string {
	industry := c.Industry
	if industry == "" {
		industry = "unknown"
	}
	return fmt.Sprintf("Recipient:\n- Name: %s\n- Company: %s\n- Website: %s\n- Industry: %s",
		c.Name, c.CompanyName, c.CompanyURL, industry)
}

var stageBriefs = map[model.Stage]string{
	model.StageDrip1: `This is the first email in the sequence: a strategic opener.
Reference their company and industry and name one concrete way we could add value in that context.
Close with a low-pressure invitation to a short call.`,
	model.StageDrip2: `This is the second email, sent a few days after an unanswered opener: the proof point.
Share one short, relevant success story or industry metric and the business impact it had.
Use a fresh, simple subject line such as "A quick example for <company>".`,
	model.StageDrip3: `This is the third and final email: a graceful exit.
Say this is your last note on the topic for now, thank them for their time, and leave the door open on their terms.
Use a simple, final subject such as "Closing the loop".`,
}

func stagePrompt(req Request, calendarLink string) (string, error) {
	var b strings.Builder
	switch req.Stage {
	case model.StageDrip1, model.StageDrip2, model.StageDrip3:
		b.WriteString(stageBriefs[req.Stage])
	case model.StageReply:
		fmt.Fprintf(&b, `The recipient replied to our outreach with interest. Their reply:
---
%s
---
Acknowledge what they actually said, connect it to how we can help, and ask for a brief introductory call.
Include this booking link on its own line: %s`, req.ReplyText, calendarLink)
		if req.Queries != "" {
			fmt.Fprintf(&b, `

They asked:
%s
Answer each question briefly and plainly before suggesting the call. If a question needs details you do not have, say you will cover it on the call.`, req.Queries)
		}
	default:
		return "", fmt.Errorf("unknown stage %q", req.Stage)
	}
	b.WriteString("\n\n")
	b.WriteString(recipientBlock(req.Contact))
	b.WriteString("\n\n")
	b.WriteString(outputRules)
	return b.String(), nil
}

const classifyPrompt = `Classify the email reply below and return a single JSON object.

1. Stop request: if the sender asks not to be contacted again ("unsubscribe", "remove me", "take me off your list", "don't email me again"), set "stopContact" to true.
2. Questions: if the sender asks anything about our services, pricing, process or results, set "hasQuery" to true and list the questions in "queries", otherwise "queries" is "none".
3. Sentiment:
   - POSITIVE: asks for a meeting, call, demo, proposal or pricing, or discusses budget, timeline or needs.
   - NEUTRAL: acknowledgment, polite deferral, or a general non-committal question.
   - NEGATIVE: not interested, not a fit, annoyed, or any stop request.

Reply:
---
%s
---

Output exactly:
{"sentiment": "POSITIVE" | "NEGATIVE" | "NEUTRAL", "reasoning": "<one sentence>", "stopContact": true | false, "hasQuery": true | false, "queries": "<questions, or none>"}`

const industryPrompt = `Company name: %s
Company website: %s

Which industry does this company operate in? Reply with only the industry name, one to three words.`
