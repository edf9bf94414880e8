package intent

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Field names reported in Entities.Unresolved and Entities.Defaulted.
const (
	FieldProjectID    = "project_id"
	FieldControls     = "controls"
	FieldFramework    = "framework"
	FieldReportFormat = "report_format"
)

// Entities is what could be read out of a request. Zero values mean "not
// mentioned".
type Entities struct {
	ProjectID    int64   `json:"project_id,omitempty"`
	AssessmentID int64   `json:"assessment_id,omitempty"`
	ControlIDs   []int64 `json:"control_ids,omitempty"`

	// ControlCodes are short codes such as "AC-2" or "AU-6(1)", upper-cased.
	ControlCodes []string `json:"control_codes,omitempty"`

	ControlKeywords []string `json:"control_keywords,omitempty"`
	Framework       string   `json:"framework,omitempty"`
	ReportFormat    string   `json:"report_format,omitempty"`

	// Unresolved lists the fields the text said nothing about.
	Unresolved []string `json:"unresolved,omitempty"`

	// Defaulted lists the fields filled from configured defaults.
	Defaulted []string `json:"defaulted,omitempty"`

	// UnknownCodes are control codes with no match in the catalog.
	UnknownCodes []string `json:"unknown_codes,omitempty"`
}

var (
	projectPattern    = regexp.MustCompile(`(?i)\bproject\s*(?:id\s*)?(?:#|no\.?\s*|number\s*)?:?\s*(\d+)\b`)
	controlPattern    = regexp.MustCompile(`(?i)\bcontrols?\s*(?:id\s*)?(?:#|no\.?\s*|number\s*)?:?\s*(\d+)\b`)
	assessmentPattern = regexp.MustCompile(`(?i)\bassessment\s*(?:id\s*)?(?:#|no\.?\s*|number\s*)?:?\s*(\d+)\b`)

	// NIST 800-53 family prefixes, optionally with an enhancement: AU-6(1).
	controlCodePattern = regexp.MustCompile(`(?i)\b(AC|AT|AU|CA|CM|CP|IA|IR|MA|MP|PE|PL|PM|PS|PT|RA|SA|SC|SI|SR)-(\d{1,2})\b(?:\((\d{1,2})\))?`)

	reportFormatPattern = regexp.MustCompile(`(?i)\b(pdf|docx|word|xlsx|excel|spreadsheet|csv|markdown|md)\b`)
)

var reportFormatAliases = map[string]string{
	"pdf":         "pdf",
	"docx":        "docx",
	"word":        "docx",
	"xlsx":        "xlsx",
	"excel":       "xlsx",
	"spreadsheet": "xlsx",
	"csv":         "csv",
	"markdown":    "markdown",
	"md":          "markdown",
}

type frameworkAlias struct {
	pattern   *regexp.Regexp
	framework string
}

// frameworkAliases is ordered so the more specific spellings win.
var frameworkAliases = []frameworkAlias{
	{regexp.MustCompile(`(?i)\b(nist\s*(sp\s*)?)?800-53\b`), "NIST-800-53"},
	{regexp.MustCompile(`(?i)\bnist\s*csf\b|\bcybersecurity framework\b`), "NIST-CSF"},
	{regexp.MustCompile(`(?i)\bnist\b`), "NIST-800-53"},
	{regexp.MustCompile(`(?i)\bsoc\s*-?\s*2\b`), "SOC2"},
	{regexp.MustCompile(`(?i)\biso\s*-?\s*27001\b|\b27001\b`), "ISO-27001"},
	{regexp.MustCompile(`(?i)\bhipaa\b`), "HIPAA"},
	{regexp.MustCompile(`(?i)\bpci(\s*-?\s*dss)?\b`), "PCI-DSS"},
	{regexp.MustCompile(`(?i)\bfedramp\b`), "FedRAMP"},
	{regexp.MustCompile(`(?i)\bgdpr\b`), "GDPR"},
}

// controlKeywords maps vocabulary found in requests to the search term used
// against control names and descriptions.
var controlKeywords = []struct {
	fragment string
	term     string
}{
	{"access control", "access"},
	{"remote access", "remote access"},
	{"account", "account"},
	{"audit", "audit"},
	{"logging", "logging"},
	{"encrypt", "encryption"},
	{"cryptograph", "cryptographic"},
	{"backup", "backup"},
	{"incident", "incident"},
	{"vulnerabilit", "vulnerabilit"},
	{"scanning", "scanning"},
	{"firewall", "firewall"},
	{"boundary", "boundary"},
	{"multi-factor", "multi-factor"},
	{"mfa", "multi-factor"},
	{"authentication", "authenticat"},
	{"configuration", "configuration"},
}

// Extract reads entities out of text without consulting any store.
func Extract(text string) Entities {
	var e Entities

	if m := projectPattern.FindStringSubmatch(text); m != nil {
		e.ProjectID = parseID(m[1])
	}
	if m := assessmentPattern.FindStringSubmatch(text); m != nil {
		e.AssessmentID = parseID(m[1])
	}
	for _, m := range controlPattern.FindAllStringSubmatch(text, -1) {
		if id := parseID(m[1]); id > 0 && !slices.Contains(e.ControlIDs, id) {
			e.ControlIDs = append(e.ControlIDs, id)
		}
	}
	for _, m := range controlCodePattern.FindAllStringSubmatch(text, -1) {
		code := strings.ToUpper(m[1]) + "-" + trimZeros(m[2])
		if m[3] != "" {
			code += "(" + trimZeros(m[3]) + ")"
		}
		if !slices.Contains(e.ControlCodes, code) {
			e.ControlCodes = append(e.ControlCodes, code)
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range controlKeywords {
		if strings.Contains(lower, kw.fragment) && !slices.Contains(e.ControlKeywords, kw.term) {
			e.ControlKeywords = append(e.ControlKeywords, kw.term)
		}
	}

	for _, alias := range frameworkAliases {
		if alias.pattern.MatchString(text) {
			e.Framework = alias.framework
			break
		}
	}

	if m := reportFormatPattern.FindStringSubmatch(text); m != nil {
		e.ReportFormat = reportFormatAliases[strings.ToLower(m[1])]
	}

	if e.ProjectID == 0 {
		e.Unresolved = append(e.Unresolved, FieldProjectID)
	}
	if len(e.ControlIDs) == 0 && len(e.ControlCodes) == 0 && len(e.ControlKeywords) == 0 {
		e.Unresolved = append(e.Unresolved, FieldControls)
	}
	if e.Framework == "" {
		e.Unresolved = append(e.Unresolved, FieldFramework)
	}
	if e.ReportFormat == "" {
		e.Unresolved = append(e.Unresolved, FieldReportFormat)
	}
	return e
}

// baseCode strips an enhancement suffix: "AU-6(1)" becomes "AU-6".
// trimZeros drops leading zeros from a run of digits, keeping at least one.
func trimZeros(digits string) string {
	if trimmed := strings.TrimLeft(digits, "0"); trimmed != "" {
		return trimmed
	}
	return "0"
}

func baseCode(code string) string {
	if i := strings.IndexByte(code, '('); i > 0 {
		return code[:i]
	}
	return code
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
