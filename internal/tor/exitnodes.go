package tor

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ExitNodes is a validated set of exit countries in first-seen order.
// The zero value means no restriction.
type ExitNodes struct {
	regions []language.Region
}

// ParseExitNodes parses a torrc style country filter.
//
// Accepted forms are "{us},{de}", "{us}, {ru}" and "us,de". Codes must be
// ISO 3166-1 alpha-2 countries; duplicates are dropped. An empty or
// whitespace-only string yields the zero ExitNodes.
func ParseExitNodes(s string) (ExitNodes, error) {
	var nodes ExitNodes
	if strings.TrimSpace(s) == "" {
		return nodes, nil
	}

	seen := make(map[language.Region]bool)
	for _, field := range strings.Split(s, ",") {
		code := strings.TrimSpace(field)
		code = strings.TrimPrefix(code, "{")
		code = strings.TrimSuffix(code, "}")
		code = strings.TrimSpace(code)

		if len(code) != 2 || !isASCIILetters(code) {
			return ExitNodes{}, fmt.Errorf("%w: %q", ErrInvalidExitNodes, field)
		}

		region, err := language.ParseRegion(code)
		if err != nil || !region.IsCountry() {
			return ExitNodes{}, fmt.Errorf("%w: unknown country %q", ErrInvalidExitNodes, code)
		}

		if seen[region] {
			continue
		}
		seen[region] = true
		nodes.regions = append(nodes.regions, region)
	}

	return nodes, nil
}

func isASCIILetters(s string) bool {
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// IsEmpty reports whether no restriction is set.
func (e ExitNodes) IsEmpty() bool {
	return len(e.regions) == 0
}

// Codes returns the lowercase country codes.
func (e ExitNodes) Codes() []string {
	codes := make([]string, len(e.regions))
	for i, r := range e.regions {
		codes[i] = strings.ToLower(r.String())
	}
	return codes
}

// Names returns English country names, e.g. "Germany".
func (e ExitNodes) Names() []string {
	namer := display.Regions(language.English)
	names := make([]string, len(e.regions))
	for i, r := range e.regions {
		names[i] = namer.Name(r)
	}
	return names
}

// String renders the filter in the form tor expects: "{us},{de}".
func (e ExitNodes) String() string {
	codes := e.Codes()
	for i, c := range codes {
		codes[i] = "{" + c + "}"
	}
	return strings.Join(codes, ",")
}

// Country is an ISO 3166-1 country with its English name.
// The zero value means the country is unknown.
type Country struct {
	Code string
	Name string
}

// IsZero reports whether the country is unknown.
func (c Country) IsZero() bool {
	return c.Code == ""
}

// countryFromCode resolves a geoip code such as "de" or "DE". Tor answers
// "??" for addresses outside its database; that and anything that is not
// a country yield the zero Country.
func countryFromCode(code string) Country {
	code = strings.TrimSpace(code)
	if len(code) != 2 || !isASCIILetters(code) {
		return Country{}
	}
	region, err := language.ParseRegion(code)
	if err != nil || !region.IsCountry() {
		return Country{}
	}
	return Country{
		Code: strings.ToLower(region.String()),
		Name: display.Regions(language.English).Name(region),
	}
}
