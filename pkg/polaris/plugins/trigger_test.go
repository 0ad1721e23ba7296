package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileTrigger(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		prefix  string
		content string
		want    bool
	}{
		{"slash placeholder", "/ping", "/", "/ping", true},
		{"anchored at start", "/ping", "/", "say /ping", false},
		{"case insensitive content", "/ping", "/", "/PING", true},
		{"custom prefix", "/ping", "!", "!ping", true},
		{"custom prefix rejects slash", "/ping", "!", "/ping", false},
		{"prefix is quoted", "/ping", ".", "xping", false},
		{"prefix is quoted match", "/ping", ".", ".ping", true},
		{"unanchored search", "hello", "/", "oh hello there", true},
		{"end anchor", "/remind$", "/", "/remind", true},
		{"end anchor rejects suffix", "/remind$", "/", "/remind me", false},
		{"no placeholder", "^r ", "/", "r 5m tea", true},
		{"hashtag", "#go", "/", "look at #go", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := CompileTrigger(Command{Pattern: tt.pattern}, tt.prefix)
			require.NoError(t, err)
			_, ok := tr.Match(tt.content)
			assert.Equal(t, tt.want, ok, "expr %s", tr.Expr())
		})
	}
}

func TestCompileTrigger_Invalid(t *testing.T) {
	_, err := CompileTrigger(Command{Pattern: "/ping("}, "/")
	assert.Error(t, err)
}

func TestFirstMatch_DeclarationOrder(t *testing.T) {
	var triggers []*Trigger
	for _, p := range []string{"/remindme", "/remind", "/r"} {
		tr, err := CompileTrigger(Command{Pattern: p}, "/")
		require.NoError(t, err)
		triggers = append(triggers, tr)
	}

	m, ok := FirstMatch(triggers, "/remindme 5m tea")
	require.True(t, ok)
	assert.Equal(t, "/remindme", m.Command.Pattern)

	m, ok = FirstMatch(triggers, "/remind 5m tea")
	require.True(t, ok)
	assert.Equal(t, "/remind", m.Command.Pattern)

	_, ok = FirstMatch(triggers, "hello")
	assert.False(t, ok)
}

func TestTrigger_Groups(t *testing.T) {
	tr, err := CompileTrigger(Command{Pattern: `/pin (\w+)`}, "/")
	require.NoError(t, err)

	groups, ok := tr.Match("/pin Gopher")
	require.True(t, ok)
	assert.Equal(t, []string{"/pin gopher", "gopher"}, groups)
}

func TestCommand_Usage(t *testing.T) {
	cmd := Command{
		Pattern:    "/remindme",
		Parameters: []Parameter{{Name: "delay", Required: true}, {Name: "text"}},
	}
	assert.True(t, cmd.TakesParameter())
	assert.Equal(t, "!remindme <delay> [text]", cmd.Usage("!"))
	assert.Equal(t, "/remind", Command{Pattern: "^/remind$"}.Usage("/"))
	assert.Equal(t, "!pin <tag>", Command{Pattern: `/pin\b`, Parameters: []Parameter{{Name: "tag", Required: true}}}.Usage("!"))
	assert.False(t, Command{Pattern: "/ping"}.TakesParameter())
}

func TestInput(t *testing.T) {
	assert.Equal(t, "", Input("/ping"))
	assert.Equal(t, "5m tea time", Input("/remindme 5m tea time"))
	assert.Equal(t, "line two", Input("/echo\nline two"))
	assert.Equal(t, "5m", FirstWord("5m tea"))
	assert.Equal(t, "", FirstWord("   "))
}
