package plugins

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Trigger is a compiled command pattern.
type Trigger struct {
	Command Command
	re      *regexp.Regexp
}

// CompileTrigger replaces every "/" placeholder in the command pattern with
// "^" followed by the quoted prefix and compiles the result.
func CompileTrigger(cmd Command, prefix string) (*Trigger, error) {
	expr := strings.ReplaceAll(cmd.Pattern, "/", "^"+regexp.QuoteMeta(prefix))
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile trigger %q: %w", cmd.Pattern, err)
	}
	return &Trigger{Command: cmd, re: re}, nil
}

// Expr returns the compiled expression.
func (t *Trigger) Expr() string { return t.re.String() }

// Match searches the lower-cased content. The search is unanchored; the
// pattern itself carries any anchor.
func (t *Trigger) Match(content string) ([]string, bool) {
	groups := t.re.FindStringSubmatch(strings.ToLower(content))
	return groups, groups != nil
}

// FirstMatch returns the first trigger, in declaration order, matching
// content.
func FirstMatch(triggers []*Trigger, content string) (Match, bool) {
	for _, t := range triggers {
		if groups, ok := t.Match(content); ok {
			return Match{Command: t.Command, Groups: groups}, true
		}
	}
	return Match{}, false
}

// triggerCache memoizes compiled dynamic triggers per pattern.
type triggerCache struct {
	prefix string
	m      sync.Map // pattern -> *Trigger or error
}

func (c *triggerCache) compile(cmd Command) (*Trigger, error) {
	if v, ok := c.m.Load(cmd.Pattern); ok {
		switch t := v.(type) {
		case *Trigger:
			return &Trigger{Command: cmd, re: t.re}, nil
		case error:
			return nil, t
		}
	}
	t, err := CompileTrigger(cmd, c.prefix)
	if err != nil {
		c.m.Store(cmd.Pattern, err)
		return nil, err
	}
	c.m.Store(cmd.Pattern, t)
	return t, nil
}
