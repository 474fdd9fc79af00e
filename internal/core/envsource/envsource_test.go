package envsource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_Simple(t *testing.T) {
	values, err := Parse("DATABASE_URL=postgresql://db:5432/blog\nREDIS_URL=redis://redis:6379")
	require.NoError(t, err)
	assert.Equal(t, "postgresql://db:5432/blog", values["DATABASE_URL"])
	assert.Equal(t, "redis://redis:6379", values["REDIS_URL"])
}

func TestParse_CommentsAndBlanks(t *testing.T) {
	content := `
# application settings
APP_NAME=blog

DEBUG=false
`
	values, err := Parse(content)
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.Equal(t, "blog", values["APP_NAME"])
	assert.Equal(t, "false", values["DEBUG"])
}

func TestParse_QuotesAndExport(t *testing.T) {
	values, err := Parse(`export JWT_SECRET_KEY="s3cr3t value"` + "\n" + `APP_VERSION='1.0.0'`)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t value", values["JWT_SECRET_KEY"])
	assert.Equal(t, "1.0.0", values["APP_VERSION"])
}

func TestParse_EmptyValue(t *testing.T) {
	values, err := Parse("EMPTY=")
	require.NoError(t, err)
	assert.Equal(t, "", values["EMPTY"])
}

func TestParse_ValueWithEquals(t *testing.T) {
	values, err := Parse("QUERY=a=b&c=d")
	require.NoError(t, err)
	assert.Equal(t, "a=b&c=d", values["QUERY"])
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse("JUST_A_WORD")
	assert.ErrorIs(t, err, ErrMalformedLine)

	_, err = Parse("BAD KEY=value")
	assert.ErrorIs(t, err, ErrMalformedLine)
}

// =============================================================================
// Merge Tests
// =============================================================================

func TestMerge_InlineWins(t *testing.T) {
	base := map[string]string{"PORT": "8000", "DEBUG": "false"}
	merged := Merge(base, map[string]string{"DEBUG": "true"})

	assert.Equal(t, "8000", merged["PORT"])
	assert.Equal(t, "true", merged["DEBUG"])
	// Inputs are untouched.
	assert.Equal(t, "false", base["DEBUG"])
}

// =============================================================================
// Substitute Tests
// =============================================================================

func TestSubstitute_Simple(t *testing.T) {
	out := Substitute("postgresql://${DB_HOST}:${DB_PORT}/blog",
		map[string]string{"DB_HOST": "db", "DB_PORT": "5432"})
	assert.Equal(t, "postgresql://db:5432/blog", out)
}

func TestSubstitute_Default(t *testing.T) {
	out := Substitute("${PORT:-8000}", map[string]string{})
	assert.Equal(t, "8000", out)

	out = Substitute("${PORT:-8000}", map[string]string{"PORT": "9000"})
	assert.Equal(t, "9000", out)
}

func TestSubstitute_MissingKeptAsIs(t *testing.T) {
	out := Substitute("${MISSING}", map[string]string{})
	assert.Equal(t, "${MISSING}", out)
}

func TestSubstitute_NoPlaceholders(t *testing.T) {
	out := Substitute("plain text", map[string]string{"X": "y"})
	assert.Equal(t, "plain text", out)
}
