package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

func TestRenderMergeFields(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("Hello {{ first_name }} {{ last_name }}", map[string]any{
		"first_name": "Ada",
		"last_name":  "Lovelace",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada Lovelace", out)
}

func TestRenderDefaultFilter(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render(`Hi {{ first_name | default: "Friend" }}`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Hi Friend", out)

	out, err = r.Render(`Hi {{ first_name | default: "Friend" }}`, map[string]any{"first_name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", out)
}

func TestRenderParseErrorSurfaces(t *testing.T) {
	r := NewRenderer()

	_, err := r.Render("{{ broken", map[string]any{})
	assert.Error(t, err)
}

func TestEmailRendersAllParts(t *testing.T) {
	r := NewRenderer()
	recipient := domain.Recipient{
		ID:        "ada@example.com",
		Email:     "ada@example.com",
		FirstName: "Ada",
		Fields:    map[string]string{"plan": "premium"},
	}

	rendered, err := r.Email(
		"{{ plan }} update for {{ first_name }}",
		"<p>Hi {{ first_name }}</p>",
		"Hi {{ first_name }}",
		recipient,
	)
	require.NoError(t, err)
	assert.Equal(t, "premium update for Ada", rendered.Subject)
	assert.Equal(t, "<p>Hi Ada</p>", rendered.HTML)
	assert.Equal(t, "Hi Ada", rendered.Text)
}

func TestEmailEmptyTextSkipped(t *testing.T) {
	r := NewRenderer()

	rendered, err := r.Email("s", "<p>h</p>", "", domain.Recipient{Email: "a@example.com"})
	require.NoError(t, err)
	assert.Empty(t, rendered.Text)
}

func TestCustomFieldsNeverShadowBuiltins(t *testing.T) {
	r := NewRenderer()
	recipient := domain.Recipient{
		Email:     "real@example.com",
		FirstName: "Real",
		Fields:    map[string]string{"email": "spoofed@example.com", "first_name": "Spoofed"},
	}

	rendered, err := r.Email("{{ email }} {{ first_name }}", "<p>x</p>", "", recipient)
	require.NoError(t, err)
	assert.Equal(t, "real@example.com Real", rendered.Subject)
}
