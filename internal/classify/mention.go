package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/wesm/argh/internal/models"
)

// Matcher finds references to the user or the user's teams in text.
// Matching is a case- and diacritic-insensitive substring search.
type Matcher struct {
	me    string
	teams []string
}

// NewMatcher folds the needles of s once so bodies are the only thing folded per call
func NewMatcher(s *models.Settings) *Matcher {
	m := &Matcher{}
	if s.UserLogin != "" {
		m.me = Fold("@" + s.UserLogin)
	}
	for _, t := range s.TeamReferrals {
		if t = strings.TrimSpace(t); t != "" {
			m.teams = append(m.teams, Fold(t))
		}
	}
	return m
}

// MentionsMe reports whether text contains "@login"
func (m *Matcher) MentionsMe(text string) bool {
	if m.me == "" || text == "" {
		return false
	}
	return strings.Contains(Fold(text), m.me)
}

// MentionsTeam reports whether text contains any team referral
func (m *Matcher) MentionsTeam(text string) bool {
	if len(m.teams) == 0 || text == "" {
		return false
	}
	folded := Fold(text)
	for _, t := range m.teams {
		if strings.Contains(folded, t) {
			return true
		}
	}
	return false
}

// Fold strips combining marks and case-folds s.
// Transformers keep state, so a fresh chain is built for every call.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}
