package types

// PageType is the closed set of pages a chat can be opened from
type PageType string

const (
	PageGeneral   PageType = "general"
	PageMP        PageType = "mp"
	PageBill      PageType = "bill"
	PageDashboard PageType = "dashboard"
	PageLobbying  PageType = "lobbying"
	PageSpending  PageType = "spending"
)

// PageContext describes what the user was looking at when they asked
type PageContext struct {
	Type      PageType          `json:"type"`
	Locale    string            `json:"locale,omitempty"`
	MP        *MPContext        `json:"mp,omitempty"`
	Bill      *BillContext      `json:"bill,omitempty"`
	Dashboard *DashboardContext `json:"dashboard,omitempty"`
	Lobbying  *LobbyingContext  `json:"lobbying,omitempty"`
	Spending  *SpendingContext  `json:"spending,omitempty"`
}

type MPContext struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	Party    string `json:"party,omitempty"`
	Riding   string `json:"riding,omitempty"`
	Province string `json:"province,omitempty"`
}

type BillContext struct {
	Number  string `json:"number,omitempty"`
	Session string `json:"session,omitempty"`
	Title   string `json:"title,omitempty"`
	Status  string `json:"status,omitempty"`
	Sponsor string `json:"sponsor,omitempty"`
}

type DashboardContext struct {
	Section string `json:"section,omitempty"`
}

type LobbyingContext struct {
	Organization   string `json:"organization,omitempty"`
	RegistrationID string `json:"registration_id,omitempty"`
}

type SpendingContext struct {
	MPName     string `json:"mp_name,omitempty"`
	FiscalYear string `json:"fiscal_year,omitempty"`
	Category   string `json:"category,omitempty"`
}

// LocaleOrDefault returns the page locale, falling back to English
func (c *PageContext) LocaleOrDefault() string {
	if c == nil || (c.Locale != "fr" && c.Locale != "en") {
		return "en"
	}
	return c.Locale
}
