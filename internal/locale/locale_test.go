package locale

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewResolver_FallsBackToEnglish(t *testing.T) {
	t.Parallel()

	require.Equal(t, language.AmericanEnglish, NewResolver("not a tag!").Default())
	require.Equal(t, language.MustParse("fr-FR"), NewResolver("fr-FR").Default())
}

func TestResolver_Parse(t *testing.T) {
	t.Parallel()

	r := NewResolver("en-US")
	require.Equal(t, language.AmericanEnglish, r.Parse(""))
	require.Equal(t, language.AmericanEnglish, r.Parse("%%%"))
	require.Equal(t, language.MustParse("de-DE"), r.Parse(" de-DE "))
}

func TestResolver_GetFallsBackToDefault(t *testing.T) {
	t.Parallel()

	r := NewResolver("en-US")
	names := map[string]string{"en-US": "Blog", "es-ES": "Bitácora"}

	require.Equal(t, "Bitácora", r.Get(names, language.MustParse("es-ES")))
	require.Equal(t, "Blog", r.Get(names, language.MustParse("ja-JP")))
	require.Equal(t, "", r.Get(nil, language.AmericanEnglish))
}

func TestResolver_GetAcceptsNonCanonicalKeys(t *testing.T) {
	t.Parallel()

	r := NewResolver("en-US")
	names := map[string]string{"pt_BR": "Intranet"}

	require.Equal(t, "Intranet", r.Get(names, language.MustParse("pt-BR")))
}

func TestEqualFold(t *testing.T) {
	t.Parallel()

	require.True(t, EqualFold(" Foo", "foo"))
	require.True(t, EqualFold("STRASSE", "strasse "))
	require.False(t, EqualFold("", ""))
	require.False(t, EqualFold("   ", "foo"))
	require.False(t, EqualFold("foo", "bar"))
}
