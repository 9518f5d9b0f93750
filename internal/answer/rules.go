package answer

import "github.com/spigell/autoapply/internal/state"

// Rule maps a label onto a profile value. A rule matches when every keyword
// is a substring of the normalized label and none of Unless is.
type Rule struct {
	Keywords []string
	Unless   []string
	Value    func(p state.Profile) string
}

func (r Rule) matches(label string) bool {
	return containsAll(label, r.Keywords) && !containsAny(label, r.Unless...)
}

// DefaultRules is ordered most specific first; the first match with a
// non-empty profile value wins.
func DefaultRules() []Rule {
	firstName := func(p state.Profile) string { return p.FirstName }
	lastName := func(p state.Profile) string { return p.LastName }
	fullName := func(p state.Profile) string { return p.FullName() }

	notPerson := []string{"company", "employer", "school", "reference"}

	return []Rule{
		{Keywords: []string{"first", "name"}, Unless: notPerson, Value: firstName},
		{Keywords: []string{"given", "name"}, Value: firstName},
		{Keywords: []string{"last", "name"}, Unless: notPerson, Value: lastName},
		{Keywords: []string{"family", "name"}, Value: lastName},
		{Keywords: []string{"surname"}, Value: lastName},
		{Keywords: []string{"full", "name"}, Value: fullName},
		{Keywords: []string{"email"}, Value: func(p state.Profile) string { return p.Email }},
		{Keywords: []string{"phone"}, Unless: []string{"country code"}, Value: func(p state.Profile) string { return p.Phone }},
		{Keywords: []string{"mobile"}, Value: func(p state.Profile) string { return p.Phone }},
		{Keywords: []string{"linkedin"}, Value: func(p state.Profile) string { return p.LinkedIn }},
		{Keywords: []string{"github"}, Value: func(p state.Profile) string { return p.GitHub }},
		{Keywords: []string{"portfolio"}, Value: func(p state.Profile) string { return p.Portfolio }},
		{Keywords: []string{"website"}, Value: func(p state.Profile) string { return p.Portfolio }},
		{Keywords: []string{"zip"}, Value: func(p state.Profile) string { return p.Zip }},
		{Keywords: []string{"postal"}, Value: func(p state.Profile) string { return p.Zip }},
		{Keywords: []string{"city"}, Value: func(p state.Profile) string { return p.City }},
		{Keywords: []string{"province"}, Value: func(p state.Profile) string { return p.State }},
		{Keywords: []string{"country"}, Unless: []string{"authori", "eligible", "legally", "sponsor", "reloca", "work in"}, Value: func(p state.Profile) string { return p.Country }},
		{Keywords: []string{"address"}, Value: func(p state.Profile) string { return p.Address }},
		{Keywords: []string{"current", "company"}, Value: func(p state.Profile) string { return p.CurrentCompany }},
		{Keywords: []string{"current", "employer"}, Value: func(p state.Profile) string { return p.CurrentCompany }},
		{Keywords: []string{"current", "title"}, Value: func(p state.Profile) string { return p.CurrentTitle }},
		{Keywords: []string{"job", "title"}, Value: func(p state.Profile) string { return p.CurrentTitle }},
		{Keywords: []string{"name"}, Unless: append(notPerson, "university"), Value: fullName},
	}
}
