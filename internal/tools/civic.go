package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/CivicPulse/civicpulse/pkg/types"
)

// GraphQuerier runs read-only queries against the civic data graph
type GraphQuerier interface {
	Query(ctx context.Context, query string, vars map[string]any) (json.RawMessage, error)
}

type localeKey struct{}

// WithLocale attaches the UI locale used to build navigation URLs
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

func localeFrom(ctx context.Context) string {
	if l, ok := ctx.Value(localeKey{}).(string); ok && (l == "en" || l == "fr") {
		return l
	}
	return "en"
}

const (
	defaultLimit = 10
	maxLimit     = 50
)

const (
	searchDebatesQuery = `query SearchDebates($query: String!, $limit: Int!, $mpId: ID) {
  searchHansard(query: $query, limit: $limit, mpId: $mpId) {
    id
    content_en
    content_fr
    speaker_name
    party
    h1_en
    h2_en
    document { date number session_id }
  }
}`

	getMPQuery = `query GetMP($id: ID!) {
  mps(where: { id: $id }) {
    id
    name
    party
    riding
    province
    cabinet_position
    email
    phone
    memberOf { code name }
    sponsored(options: { limit: 10, sort: [{ introduced_date: DESC }] }) { number session title status }
  }
}`

	searchMPsQuery = `query SearchMPs($name: String, $party: String, $province: String, $limit: Int!) {
  searchMPs(name: $name, party: $party, province: $province, current: true, limit: $limit) {
    id
    name
    party
    riding
    province
  }
}`

	getBillQuery = `query GetBill($number: String!, $session: String) {
  bills(where: { number: $number, session: $session }, options: { limit: 1, sort: [{ session: DESC }] }) {
    number
    session
    title
    summary
    status
    stage
    bill_type
    introduced_date
    sponsor { id name party }
    lobbiedOn(options: { limit: 10 }) { id organization { name } subject_matter date }
  }
}`

	searchBillsQuery = `query SearchBills($query: String, $status: String, $limit: Int!) {
  searchBills(searchTerm: $query, status: $status, limit: $limit) {
    number
    session
    title
    status
    introduced_date
  }
}`

	listCommitteesQuery = `query ListCommittees {
  committees(options: { sort: [{ code: ASC }] }) {
    code
    name
    chamber
  }
}`

	getCommitteeQuery = `query GetCommittee($code: String!) {
  committees(where: { code: $code }) {
    code
    name
    chamber
    members { id name party }
    meetings(options: { limit: 5, sort: [{ date: DESC }] }) { number date subject }
  }
}`

	searchLobbyingQuery = `query SearchLobbying($query: String, $organization: String, $limit: Int!) {
  searchLobbyRegistrations(searchTerm: $query, organization: $organization, limit: $limit) {
    id
    registrant_name
    client_org_name
    subject_matters
    effective_date
    active
  }
}`

	getMPExpensesQuery = `query GetMPExpenses($id: ID!, $fiscalYear: Int) {
  mpExpenseSummary(mpId: $id, fiscalYear: $fiscalYear) {
    mp_id
    mp_name
    fiscal_year
    total
    salaries
    travel
    hospitality
    contracts
  }
}`
)

// RegisterCivic registers the civic data catalog backed by g
func RegisterCivic(reg *Registry, g GraphQuerier) {
	c := &civic{graph: g}

	reg.Register(&Tool{
		Name:        "search_debates",
		Description: "Search House of Commons debates (Hansard) for speeches matching a phrase. Optionally restrict to one MP.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Words or phrase to search for", Required: true},
			{Name: "mp_id", Type: "string", Description: "Only speeches by this MP id"},
			{Name: "limit", Type: "integer", Description: "Maximum results (1-50, default 10)"},
		},
		Handler: c.searchDebates,
	})

	reg.Register(&Tool{
		Name:        "get_mp",
		Description: "Get an MP's profile: party, riding, committees and recently sponsored bills.",
		Parameters: []Parameter{
			{Name: "mp_id", Type: "string", Description: "MP id, e.g. pierre-poilievre", Required: true},
		},
		Handler: c.getMP,
	})

	reg.Register(&Tool{
		Name:        "search_mps",
		Description: "Find current MPs by name, party or province.",
		Parameters: []Parameter{
			{Name: "name", Type: "string", Description: "Full or partial name"},
			{Name: "party", Type: "string", Description: "Party name, e.g. Liberal"},
			{Name: "province", Type: "string", Description: "Province or territory"},
			{Name: "limit", Type: "integer", Description: "Maximum results (1-50, default 10)"},
		},
		Handler: c.searchMPs,
	})

	reg.Register(&Tool{
		Name:        "get_bill",
		Description: "Get a bill with its sponsor, status and lobbying registrations that mention it.",
		Parameters: []Parameter{
			{Name: "number", Type: "string", Description: "Bill number, e.g. C-21", Required: true},
			{Name: "session", Type: "string", Description: "Parliament session, e.g. 44-1. Defaults to the latest."},
		},
		Handler: c.getBill,
	})

	reg.Register(&Tool{
		Name:        "search_bills",
		Description: "Search bills by keyword and status.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Keywords in the title or summary"},
			{Name: "status", Type: "string", Description: "Bill status", Enum: []string{"introduced", "in_progress", "passed", "royal_assent", "defeated"}},
			{Name: "limit", Type: "integer", Description: "Maximum results (1-50, default 10)"},
		},
		Handler: c.searchBills,
	})

	reg.Register(&Tool{
		Name:        "list_committees",
		Description: "List parliamentary committees with their codes.",
		Handler:     c.listCommittees,
	})

	reg.Register(&Tool{
		Name:        "get_committee",
		Description: "Get a committee's members and recent meetings.",
		Parameters: []Parameter{
			{Name: "code", Type: "string", Description: "Committee code, e.g. FINA", Required: true},
		},
		Handler: c.getCommittee,
	})

	reg.Register(&Tool{
		Name:        "search_lobbying",
		Description: "Search federal lobbying registrations by keyword or organization.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Subject keywords"},
			{Name: "organization", Type: "string", Description: "Client or registrant organization"},
			{Name: "limit", Type: "integer", Description: "Maximum results (1-50, default 10)"},
		},
		Handler: c.searchLobbying,
	})

	reg.Register(&Tool{
		Name:        "get_mp_expenses",
		Description: "Get an MP's office expense summary for a fiscal year.",
		Parameters: []Parameter{
			{Name: "mp_id", Type: "string", Description: "MP id", Required: true},
			{Name: "fiscal_year", Type: "integer", Description: "Fiscal year start, e.g. 2024. Defaults to the latest."},
		},
		Handler: c.getMPExpenses,
	})

	reg.Register(&Tool{
		Name:        "navigate",
		Description: "Offer the user a link to a page in the app. Use a site path such as /en/bills/45-1/C-2.",
		Parameters: []Parameter{
			{Name: "url", Type: "string", Description: "Site-relative path starting with /", Required: true},
			{Name: "message", Type: "string", Description: "Short label shown with the link", Required: true},
		},
		Handler: navigate,
	})
}

type civic struct {
	graph GraphQuerier
}

func (c *civic) query(ctx context.Context, q string, vars map[string]any) (json.RawMessage, error) {
	data, err := c.graph.Query(ctx, q, vars)
	if err != nil {
		return nil, fmt.Errorf("civic data query failed: %w", err)
	}
	return data, nil
}

func (c *civic) searchDebates(ctx context.Context, p Params) (*Output, error) {
	q, err := p.RequiredString("query")
	if err != nil {
		return nil, err
	}
	limit, err := p.Int("limit", defaultLimit, 1, maxLimit)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{"query": q, "limit": limit}
	if id := p.String("mp_id"); id != "" {
		vars["mpId"] = id
	}
	data, err := c.query(ctx, searchDebatesQuery, vars)
	if err != nil {
		return nil, err
	}
	return &Output{Data: data}, nil
}

func (c *civic) getMP(ctx context.Context, p Params) (*Output, error) {
	id, err := p.RequiredString("mp_id")
	if err != nil {
		return nil, err
	}
	data, err := c.query(ctx, getMPQuery, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	var found struct {
		MPs []struct {
			Name string `json:"name"`
		} `json:"mps"`
	}
	if err := json.Unmarshal(data, &found); err != nil {
		return nil, fmt.Errorf("unexpected MP response: %w", err)
	}
	if len(found.MPs) == 0 {
		return nil, InvalidInput("no MP with id %q", id)
	}

	out := &Output{Data: data}
	out.Navigation = pageLink(ctx, "/mps/"+url.PathEscape(id), "View "+found.MPs[0].Name+"'s profile", "Voir le profil de "+found.MPs[0].Name)
	return out, nil
}

func (c *civic) searchMPs(ctx context.Context, p Params) (*Output, error) {
	limit, err := p.Int("limit", defaultLimit, 1, maxLimit)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{"limit": limit}
	for _, name := range []string{"name", "party", "province"} {
		if v := p.String(name); v != "" {
			vars[name] = v
		}
	}
	data, err := c.query(ctx, searchMPsQuery, vars)
	if err != nil {
		return nil, err
	}
	return &Output{Data: data}, nil
}

func (c *civic) getBill(ctx context.Context, p Params) (*Output, error) {
	number, err := p.RequiredString("number")
	if err != nil {
		return nil, err
	}
	number = strings.ToUpper(number)
	vars := map[string]any{"number": number}
	if s := p.String("session"); s != "" {
		vars["session"] = s
	}
	data, err := c.query(ctx, getBillQuery, vars)
	if err != nil {
		return nil, err
	}

	var found struct {
		Bills []struct {
			Session string `json:"session"`
		} `json:"bills"`
	}
	if err := json.Unmarshal(data, &found); err != nil {
		return nil, fmt.Errorf("unexpected bill response: %w", err)
	}
	if len(found.Bills) == 0 {
		return nil, InvalidInput("no bill %s found", number)
	}

	out := &Output{Data: data}
	path := "/bills/" + url.PathEscape(found.Bills[0].Session) + "/" + url.PathEscape(number)
	out.Navigation = pageLink(ctx, path, "Open bill "+number, "Ouvrir le projet de loi "+number)
	return out, nil
}

func (c *civic) searchBills(ctx context.Context, p Params) (*Output, error) {
	limit, err := p.Int("limit", defaultLimit, 1, maxLimit)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{"limit": limit}
	if q := p.String("query"); q != "" {
		vars["query"] = q
	}
	if s := p.String("status"); s != "" {
		vars["status"] = s
	}
	data, err := c.query(ctx, searchBillsQuery, vars)
	if err != nil {
		return nil, err
	}
	return &Output{Data: data}, nil
}

func (c *civic) listCommittees(ctx context.Context, _ Params) (*Output, error) {
	data, err := c.query(ctx, listCommitteesQuery, nil)
	if err != nil {
		return nil, err
	}
	return &Output{Data: data}, nil
}

func (c *civic) getCommittee(ctx context.Context, p Params) (*Output, error) {
	code, err := p.RequiredString("code")
	if err != nil {
		return nil, err
	}
	data, err := c.query(ctx, getCommitteeQuery, map[string]any{"code": strings.ToUpper(code)})
	if err != nil {
		return nil, err
	}
	return &Output{Data: data}, nil
}

func (c *civic) searchLobbying(ctx context.Context, p Params) (*Output, error) {
	limit, err := p.Int("limit", defaultLimit, 1, maxLimit)
	if err != nil {
		return nil, err
	}
	q, org := p.String("query"), p.String("organization")
	if q == "" && org == "" {
		return nil, InvalidInput("provide query or organization")
	}
	vars := map[string]any{"limit": limit}
	if q != "" {
		vars["query"] = q
	}
	if org != "" {
		vars["organization"] = org
	}
	data, err := c.query(ctx, searchLobbyingQuery, vars)
	if err != nil {
		return nil, err
	}
	return &Output{Data: data}, nil
}

func (c *civic) getMPExpenses(ctx context.Context, p Params) (*Output, error) {
	id, err := p.RequiredString("mp_id")
	if err != nil {
		return nil, err
	}
	vars := map[string]any{"id": id}
	year, err := p.Int("fiscal_year", 0, 0, 9999)
	if err != nil {
		return nil, err
	}
	if year > 0 {
		vars["fiscalYear"] = year
	}
	data, err := c.query(ctx, getMPExpensesQuery, vars)
	if err != nil {
		return nil, err
	}
	out := &Output{Data: data}
	out.Navigation = pageLink(ctx, "/mps/"+url.PathEscape(id)+"/expenses", "View expense details", "Voir le détail des dépenses")
	return out, nil
}

func navigate(_ context.Context, p Params) (*Output, error) {
	target, err := p.RequiredString("url")
	if err != nil {
		return nil, err
	}
	msg, err := p.RequiredString("message")
	if err != nil {
		return nil, err
	}
	// browsers read a backslash as a slash, so /\host is protocol-relative
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return nil, InvalidInput("url must be a site path starting with /")
	}
	u, err := url.Parse(target)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return nil, InvalidInput("url must be a site path starting with /")
	}
	return &Output{
		Data:       map[string]any{"ok": true, "url": target},
		Navigation: &types.Navigation{URL: target, Message: msg},
	}, nil
}

func pageLink(ctx context.Context, path, en, fr string) *types.Navigation {
	locale := localeFrom(ctx)
	msg := en
	if locale == "fr" {
		msg = fr
	}
	return &types.Navigation{URL: "/" + locale + path, Message: msg}
}
