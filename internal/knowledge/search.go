package knowledge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/HanTheDev/support-chat-gateway/internal/escalation"
)

// Search returns the FAQ entries and products relevant to message. Matching
// is case-insensitive substring containment:
//   - FAQ: question contains message, message contains question, or message
//     contains any of the entry's keywords.
//   - Product: message contains the name, the description contains message,
//     or message contains the (non-empty) category.
func (s *Store) Search(message string) Context {
	msg := strings.ToLower(message)
	result := Context{Company: s.base.Company}

	for _, item := range s.base.FAQ {
		question := strings.ToLower(item.Question)
		if strings.Contains(question, msg) || strings.Contains(msg, question) || containsAny(msg, item.Keywords) {
			result.FAQ = append(result.FAQ, item)
		}
	}

	for _, p := range s.base.Products {
		name := strings.ToLower(p.Name)
		description := strings.ToLower(p.Description)
		category := strings.ToLower(p.Category)
		if (name != "" && strings.Contains(msg, name)) ||
			(description != "" && strings.Contains(description, msg)) ||
			(category != "" && strings.Contains(msg, category)) {
			result.Products = append(result.Products, p)
		}
	}

	return result
}

func containsAny(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// SystemPrompt assembles the instructions sent ahead of the conversation:
// organization facts, the behavioral rules, the matched FAQ and product
// details and the escalation sentinel contract.
func (s *Store) SystemPrompt(ctx Context) string {
	company := s.base.Company
	var b strings.Builder

	fmt.Fprintf(&b, "You are an assistant for %s.\n\n", company.Name)
	fmt.Fprintf(&b, "Company description: %s\n\n", company.Description)

	if c := company.Contact; c != nil {
		b.WriteString("Contact information:\n")
		if c.Phone != "" {
			fmt.Fprintf(&b, "Phone: %s\n", c.Phone)
		}
		if c.Email != "" {
			fmt.Fprintf(&b, "Email: %s\n", c.Email)
		}
		if len(c.Addresses) > 0 {
			fmt.Fprintf(&b, "Addresses: %s\n", strings.Join(c.Addresses, ", "))
		}
		fmt.Fprintf(&b, "Working hours: %s\n\n", company.WorkingHours)
	}

	b.WriteString("Strict rules:\n")
	fmt.Fprintf(&b, "- Never mention competitors: %s\n", strings.Join(s.base.Banned.Competitors, ", "))
	b.WriteString("- If a product is out of stock, do not suggest alternatives from other companies\n")
	b.WriteString("- If the client asks for a human, immediately escalate to an operator\n")
	b.WriteString("- Do not discuss politics, religion, or personal topics\n")
	b.WriteString("- Use only information from the provided context\n\n")

	if len(ctx.FAQ) > 0 {
		b.WriteString("Relevant FAQ:\n")
		for _, item := range ctx.FAQ {
			fmt.Fprintf(&b, "Question: %s\nAnswer: %s\n\n", item.Question, item.Answer)
		}
	}

	if len(ctx.Products) > 0 {
		b.WriteString("Relevant products:\n")
		for _, p := range ctx.Products {
			fmt.Fprintf(&b, "Name: %s\n", p.Name)
			fmt.Fprintf(&b, "Description: %s\n", p.Description)
			fmt.Fprintf(&b, "Price: %s %s\n", strconv.FormatFloat(p.Price, 'f', -1, 64), currency(p))
			if p.Availability {
				b.WriteString("Availability: In stock\n")
			} else {
				b.WriteString("Availability: Out of stock\n")
			}
			if len(p.Features) > 0 {
				fmt.Fprintf(&b, "Features: %s\n", strings.Join(p.Features, ", "))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\nRespond briefly, politely and professionally. If you don't know the answer, suggest contacting an operator.\n\n")
	fmt.Fprintf(&b, "CRITICAL INSTRUCTION: If the user requests to speak with a human operator, wants to talk to a person, "+
		"asks for a human, or if you determine that the situation requires human intervention, you MUST start your "+
		"response with exactly: %q followed by a space and then your message. For example: \"%s %s\" "+
		"This is the ONLY way to trigger operator escalation.",
		escalation.Sentinel, escalation.Sentinel, escalation.DefaultHandoffMessage)

	return b.String()
}

func currency(p Product) string {
	if p.Currency == "" {
		return "USD"
	}
	return p.Currency
}
