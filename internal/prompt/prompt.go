// Package prompt builds the system prompt for a chat turn.
package prompt

import (
	"fmt"
	"strings"

	"github.com/CivicPulse/civicpulse/pkg/types"
)

// Preamble is the fixed persona and capability block every prompt starts with
const Preamble = `You are CivicPulse, a nonpartisan assistant for Canadian parliamentary data.

## What you can look up
You have read-only tools over the CivicPulse database:
- Hansard debates and what MPs said in the House
- MP profiles, parties, ridings and committee memberships
- Bills, their sponsors, status and the lobbying registrations that mention them
- Committees, their members and recent meetings
- Federal lobbying registrations
- MP office expenses
- navigate: offer the user a link to a relevant CivicPulse page

## How to answer
- Answer in the language the user writes in (English or French).
- Use tools to check facts before you state them. Never invent votes, quotes, amounts or dates.
- Say which records your answer comes from (debate date, bill number, registration).
- Stay neutral: describe positions and records, do not endorse parties or candidates.
- If a tool fails or returns nothing, say so plainly and suggest a narrower question.
- Keep answers short. Use bullet points for lists of records.`

const unknown = "unknown"

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknown
	}
	return s
}

// Compose builds the system prompt from the fixed preamble, the user's custom
// preferences and the page they were viewing. It is deterministic.
func Compose(page *types.PageContext, customPrompt string) string {
	var sb strings.Builder
	sb.WriteString(Preamble)

	if custom := strings.TrimSpace(customPrompt); custom != "" {
		sb.WriteString("\n\n## User preferences\n")
		sb.WriteString(customPrompt)
	}

	if block := contextBlock(page); block != "" {
		sb.WriteString("\n\n")
		sb.WriteString(block)
	}

	return sb.String()
}

func contextBlock(page *types.PageContext) string {
	if page == nil {
		return ""
	}

	switch page.Type {
	case types.PageGeneral:
		return "## Current page\nThe user is browsing CivicPulse without a specific record open."

	case types.PageMP:
		mp := page.MP
		if mp == nil {
			mp = &types.MPContext{}
		}
		return fmt.Sprintf("## Current page: MP profile\nThe user is viewing the profile of %s (%s), MP for %s, %s.%s\nQuestions like \"they\" or \"this MP\" refer to this person.",
			orUnknown(mp.Name), orUnknown(mp.Party), orUnknown(mp.Riding), orUnknown(mp.Province), idLine("MP id", mp.ID))

	case types.PageBill:
		b := page.Bill
		if b == nil {
			b = &types.BillContext{}
		}
		return fmt.Sprintf("## Current page: Bill\nThe user is viewing bill %s (session %s): %s.\nStatus: %s. Sponsor: %s.\nQuestions like \"this bill\" refer to it.",
			orUnknown(b.Number), orUnknown(b.Session), orUnknown(b.Title), orUnknown(b.Status), orUnknown(b.Sponsor))

	case types.PageDashboard:
		section := unknown
		if page.Dashboard != nil {
			section = orUnknown(page.Dashboard.Section)
		}
		return fmt.Sprintf("## Current page: Dashboard\nThe user is on the dashboard, section: %s.", section)

	case types.PageLobbying:
		l := page.Lobbying
		if l == nil {
			l = &types.LobbyingContext{}
		}
		return fmt.Sprintf("## Current page: Lobbying\nThe user is viewing lobbying by %s.%s",
			orUnknown(l.Organization), idLine("Registration", l.RegistrationID))

	case types.PageSpending:
		s := page.Spending
		if s == nil {
			s = &types.SpendingContext{}
		}
		return fmt.Sprintf("## Current page: Spending\nThe user is viewing office expenses of %s for fiscal year %s, category: %s.",
			orUnknown(s.MPName), orUnknown(s.FiscalYear), orUnknown(s.Category))
	}

	return ""
}

func idLine(label, id string) string {
	if id == "" {
		return ""
	}
	return fmt.Sprintf("\n%s: %s.", label, id)
}
