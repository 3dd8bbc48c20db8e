package rules

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/aretw0/convengine/internal/logging"
	"github.com/aretw0/convengine/pkg/domain"
	"github.com/aretw0/convengine/pkg/ports"
)

// Rule types served by the built-in matchers.
const (
	TypeExact    = "EXACT"
	TypeRegex    = "REGEX"
	TypeContains = "CONTAINS"
	TypeAgent    = "AGENT"
)

// DefaultMatchers returns the built-in matchers.
func DefaultMatchers(logger *slog.Logger) []ports.Matcher {
	return []ports.Matcher{
		ExactMatcher{},
		NewRegexMatcher(logger),
		ContainsMatcher{},
		AgentMatcher{},
	}
}

// ExactMatcher matches when the trimmed user text equals the pattern, ignoring case.
type ExactMatcher struct{}

func (ExactMatcher) Type() string { return TypeExact }

func (ExactMatcher) Match(s *domain.Session, r domain.Rule) bool {
	return strings.EqualFold(strings.TrimSpace(s.UserText), strings.TrimSpace(r.Pattern))
}

// ContainsMatcher matches when the user text contains the pattern, ignoring case.
type ContainsMatcher struct{}

func (ContainsMatcher) Type() string { return TypeContains }

func (ContainsMatcher) Match(s *domain.Session, r domain.Rule) bool {
	p := strings.TrimSpace(r.Pattern)
	return p != "" && strings.Contains(strings.ToLower(s.UserText), strings.ToLower(p))
}

// AgentMatcher always matches. It is used for rules whose only condition is
// their intent and state scope.
type AgentMatcher struct{}

func (AgentMatcher) Type() string { return TypeAgent }

func (AgentMatcher) Match(*domain.Session, domain.Rule) bool { return true }

// RegexMatcher matches when the pattern is found anywhere in the user text,
// ignoring case. Compiled patterns are cached; an invalid pattern never matches.
type RegexMatcher struct {
	cache  sync.Map // pattern -> *regexp.Regexp, nil when invalid
	logger *slog.Logger
}

// NewRegexMatcher creates a RegexMatcher.
func NewRegexMatcher(logger *slog.Logger) *RegexMatcher {
	return &RegexMatcher{logger: logging.OrNop(logger)}
}

func (*RegexMatcher) Type() string { return TypeRegex }

func (m *RegexMatcher) Match(s *domain.Session, r domain.Rule) bool {
	re := m.compile(r)
	return re != nil && re.MatchString(s.UserText)
}

func (m *RegexMatcher) compile(r domain.Rule) *regexp.Regexp {
	if v, ok := m.cache.Load(r.Pattern); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil && m.logger != nil {
		m.logger.Warn("invalid rule pattern", "rule_id", r.ID, "pattern", r.Pattern, "error", err)
	}
	m.cache.Store(r.Pattern, re)
	return re
}
