package phpserial

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	oldURL = "https://moodle.old.example.com"
	newURL = "https://lms.new.example.org"
)

// token builds a length-correct serialized string token.
func token(v string) string {
	return fmt.Sprintf(`s:%d:"%s";`, len(v), v)
}

func TestReplaceRecomputesLength(t *testing.T) {
	payload := `a:1:{s:7:"wwwroot";` + token(oldURL+"/course/view.php?id=4") + `}`

	out, n := ReplaceInString(payload, oldURL, newURL)

	require.Equal(t, 1, n)
	want := `a:1:{s:7:"wwwroot";` + token(newURL+"/course/view.php?id=4") + `}`
	require.Equal(t, want, out)
}

func TestReplaceAllOccurrencesInOneCell(t *testing.T) {
	payload := `a:3:{` +
		`s:4:"home";` + token(oldURL) +
		`s:5:"media";` + token(oldURL+"/pluginfile.php/1/logo.png") +
		`s:5:"other";` + token("no url here") +
		`}`

	out, n := ReplaceInString(payload, oldURL, newURL)

	require.Equal(t, 2, n)
	require.NotContains(t, out, oldURL)
	require.Contains(t, out, token(newURL))
	require.Contains(t, out, token(newURL+"/pluginfile.php/1/logo.png"))
	require.Contains(t, out, token("no url here"))
}

func TestReplaceMultipleOccurrencesInsideOneToken(t *testing.T) {
	v := oldURL + " and again " + oldURL
	out, n := ReplaceInString(token(v), oldURL, newURL)

	require.Equal(t, 2, n)
	require.Equal(t, token(newURL+" and again "+newURL), out)
}

func TestReplaceIsReentrant(t *testing.T) {
	payload := `a:1:{s:3:"url";` + token(oldURL+"/x") + `}`

	once, n1 := ReplaceInString(payload, oldURL, newURL)
	require.Equal(t, 1, n1)

	twice, n2 := ReplaceInString(once, oldURL, newURL)
	require.Equal(t, 0, n2)
	require.Equal(t, once, twice)
}

func TestDeclaredLengthsStayConsistent(t *testing.T) {
	payload := token(oldURL+"/a") + token(strings.Repeat(oldURL+";", 3))

	out, _ := ReplaceInString(payload, oldURL, newURL)

	// re-parse every token of the output and verify each declared length
	// matches the actual content length
	i := 0
	tokens := 0
	for {
		start, length, valueStart, ok := nextStringToken(out, i)
		if !ok {
			break
		}
		require.Equal(t, byte('"'), out[valueStart+length])
		require.Equal(t, byte(';'), out[valueStart+length+1])
		require.NotContains(t, out[valueStart:valueStart+length], oldURL)
		_ = start
		i = valueStart + length + 2
		tokens++
	}
	require.Equal(t, 2, tokens)
}

func TestMalformedTokenLeftUntouched(t *testing.T) {
	// declared length disagrees with the closing quote; never rewrite it
	malformed := `s:99:"` + oldURL + `";`

	out, n := ReplaceInString(malformed, oldURL, newURL)

	require.Equal(t, 0, n)
	require.Equal(t, malformed, out)
}

func TestNoMatchFastPath(t *testing.T) {
	payload := token("nothing relevant")
	out, n := ReplaceInString(payload, oldURL, newURL)
	require.Equal(t, 0, n)
	require.Equal(t, payload, out)
}

func TestContainsSerializedString(t *testing.T) {
	require.True(t, ContainsSerializedString(token("x")))
	require.False(t, ContainsSerializedString("plain text"))
}
