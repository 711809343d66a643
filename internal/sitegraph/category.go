package sitegraph

import "strings"

// Category classifies a challenge so the orchestrator can pick the matching
// generator. The set mirrors the discipline tracks found on the platform.
type Category string

// Known challenge categories.
const (
	CategoryCrypto          Category = "crypto"
	CategoryForensics       Category = "forensics"
	CategoryLogAnalysis     Category = "log_analysis"
	CategoryOSINT           Category = "osint"
	CategoryPasswordCrack   Category = "password_cracking"
	CategoryRecon           Category = "recon"
	CategoryTrafficAnalysis Category = "traffic_analysis"
	CategoryUncategorized   Category = "uncategorized"
)

// categoryKeywords maps lowercase markers found in module titles or URL
// paths to categories. Order matters: the first hit wins.
var categoryKeywords = []struct {
	marker   string
	category Category
}{
	{"password", CategoryPasswordCrack},
	{"log", CategoryLogAnalysis},
	{"traffic", CategoryTrafficAnalysis},
	{"network", CategoryTrafficAnalysis},
	{"packet", CategoryTrafficAnalysis},
	{"forensic", CategoryForensics},
	{"steg", CategoryForensics},
	{"crypto", CategoryCrypto},
	{"cipher", CategoryCrypto},
	{"osint", CategoryOSINT},
	{"open source int", CategoryOSINT},
	{"recon", CategoryRecon},
	{"scanning", CategoryRecon},
}

// InferCategory guesses the category from free text (typically the module
// title joined with the challenge URL). Unknown text maps to Uncategorized,
// which the orchestrator reports as Unsupported unless a generator is
// registered for it.
func InferCategory(text string) Category {
	lowered := strings.ToLower(text)
	for _, kw := range categoryKeywords {
		if strings.Contains(lowered, kw.marker) {
			return kw.category
		}
	}
	return CategoryUncategorized
}
