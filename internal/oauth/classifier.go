package oauth

import "strings"

// State identifies which step of the authorization flow the browser is
// currently showing.
type State int

const (
	// StateUnauthenticated means the page is not recognizably part of the
	// provider's flow. The flow keeps waiting rather than failing: unknown
	// content usually means a transition is still in progress.
	StateUnauthenticated State = iota
	StateAccountSelection
	StateCredential
	StateSecondFactor
	StateConsent
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAccountSelection:
		return "account_selection"
	case StateCredential:
		return "credential"
	case StateSecondFactor:
		return "second_factor"
	case StateConsent:
		return "consent"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is the already-fetched page state the classifier inspects. No
// field is required; empty snapshots classify as Unauthenticated.
type Snapshot struct {
	URL   string
	Title string
	Body  string
}

// providerURLMarkers identify identity-provider pages by URL substring. URL
// signals outrank title/body keywords because the provider localizes its text
// but not its paths.
var providerURLMarkers = []string{
	"accounts.google.com",
	"oauth2/auth",
	"signin/oauth",
	"accounts/signin/oauth",
	"myaccount.google.com",
}

var secondFactorKeywords = []string{
	"verify", "verification", "code", "phone", "mobile", "sms", "text",
	"authenticator", "security", "factor", "confirm", "confirmation",
	"enter the code", "verification code", "phone number", "mobile number",
	"we sent", "sent to", "check your phone", "text message", "sms code",
}

var consentKeywords = []string{
	"wants to access", "wants access", "allow", "permissions", "is requesting",
}

var accountKeywords = []string{
	"choose an account", "use another account", "pick an account",
}

var credentialKeywords = []string{
	"enter your password", "password", "welcome",
}

// IsProviderURL reports whether url belongs to the identity provider.
func IsProviderURL(url string) bool {
	lower := strings.ToLower(url)
	for _, marker := range providerURLMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Classify maps a page snapshot to the flow state it most likely represents.
// It is total: any input, including empty or unrelated content, yields a
// defined state. Heuristics are ordered: URL path segments first, then
// title/body keyword scans.
func Classify(snap Snapshot) State {
	url := strings.ToLower(snap.URL)
	body := strings.ToLower(snap.Body)
	title := strings.ToLower(snap.Title)

	if strings.Contains(url, "code=") {
		return StateCompleted
	}

	if IsProviderURL(url) {
		switch {
		case strings.Contains(url, "signin/challenge"), strings.Contains(url, "challenge/"):
			return StateSecondFactor
		case strings.Contains(url, "consent"):
			return StateConsent
		case strings.Contains(url, "password"), strings.Contains(url, "pwd"):
			return StateCredential
		case strings.Contains(url, "identifier"), strings.Contains(url, "accountchooser"), strings.Contains(url, "selectaccount"):
			return StateAccountSelection
		}
		// A provider page with no recognizable path segment: fall through to
		// content keywords before defaulting to account selection, the flow's
		// usual first screen.
		if containsAny(body, consentKeywords) || containsAny(title, consentKeywords) {
			return StateConsent
		}
		if containsAny(body, secondFactorKeywords) {
			return StateSecondFactor
		}
		if containsAny(body, credentialKeywords) || containsAny(title, credentialKeywords) {
			return StateCredential
		}
		return StateAccountSelection
	}

	if containsAny(body, accountKeywords) {
		return StateAccountSelection
	}
	return StateUnauthenticated
}

func containsAny(haystack string, needles []string) bool {
	if haystack == "" {
		return false
	}
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
