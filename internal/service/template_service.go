// internal/service/template_service.go
package service

import (
    "strings"

    "github.com/unclebandit/dripmail-backend/internal/generator"
    "github.com/unclebandit/dripmail-backend/internal/model"
)

const stopAcknowledgmentTemplate = `Hi {first_name},

As requested, you have been removed from our mailing list and will not receive any further communication from us on this topic.

We appreciate you letting us know.

Best regards,
{sender_name}
{sender_role}
{sender_company}`

// RenderStopAcknowledgment is the fixed reply sent after an unsubscribe request.
func RenderStopAcknowledgment(c *model.Contact, sender generator.Sender) string {
    body := generator.RenderTemplate(stopAcknowledgmentTemplate, map[string]string{
        "first_name":     generator.FirstName(c.Name),
        "sender_name":    sender.Name,
        "sender_role":    sender.Role,
        "sender_company": sender.Company,
    })
    return strings.TrimRight(body, "\n")
}

// ExtractReply returns the new text of a reply, cutting at the first line
// that starts quoted history.
func ExtractReply(body string) string {
    body = strings.ReplaceAll(body, "\r\n", "\n")
    lines := strings.Split(body, "\n")
    for i := range lines {
        if startsQuote(lines, i) {
            lines = lines[:i]
            break
        }
    }
    return strings.TrimSpace(strings.Join(lines, "\n"))
}

func startsQuote(lines []string, i int) bool {
    t := strings.TrimSpace(lines[i])
    switch {
    case t == "":
        return false
    case strings.HasPrefix(t, ">"):
        return true
    case strings.HasPrefix(t, "-----Original Message-----"):
        return true
    case strings.HasPrefix(t, "From:"):
        return true
    case strings.HasPrefix(t, "On "):
        // "On <date>, <sender> wrote:" is often wrapped over two lines.
        if strings.HasSuffix(t, "wrote:") {
            return true
        }
        if i+1 < len(lines) && strings.HasSuffix(strings.TrimSpace(lines[i+1]), "wrote:") {
            return true
        }
    }
    return false
}

// ThreadedBody appends the quoted inbound message below a reply.
func ThreadedBody(reply string, in model.InboundMessage) string {
    original := ExtractReply(in.Body)
    if original == "" {
        return reply
    }
    var b strings.Builder
    b.WriteString(reply)
    b.WriteString("\n\nOn ")
    b.WriteString(in.ReceivedAt.Format("Mon, Jan 2, 2006 at 3:04 PM"))
    b.WriteString(", ")
    b.WriteString(in.From)
    b.WriteString(" wrote:\n")
    for _, line := range strings.Split(original, "\n") {
        b.WriteString("> ")
        b.WriteString(line)
        b.WriteString("\n")
    }
    return strings.TrimRight(b.String(), "\n")
}

// ReferencesFor extends the inbound message's References chain with its own id.
func ReferencesFor(in model.InboundMessage) []string {
    refs := make([]string, 0, len(in.References)+1)
    seen := make(map[string]bool)
    for _, r := range in.References {
        if r != "" && !seen[r] {
            seen[r] = true
            refs = append(refs, r)
        }
    }
    if in.MessageID != "" && !seen[in.MessageID] {
        refs = append(refs, in.MessageID)
    }
    return refs
}

// ThreadedReply addresses a response to an inbound message so mail clients
// keep it in the same conversation.
func ThreadedReply(c *model.Contact, in model.InboundMessage, body string) model.OutboundEmail {
    return model.OutboundEmail{
        ToName:     c.Name,
        To:         c.Email,
        Subject:    generator.ReplySubject(in.Subject),
        Body:       ThreadedBody(body, in),
        InReplyTo:  in.MessageID,
        References: ReferencesFor(in),
    }
}
