package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateWithTemplate(t *testing.T) {
	s, err := NewI18nSupport("en")
	require.NoError(t, err)

	assert.Equal(t,
		"We could not send your alert. Try again, or call 911 now.",
		s.T("en", MsgAlertSubmitFailed, map[string]interface{}{"Number": "911"}))
	assert.Contains(t, s.T("es", MsgAlertSubmitFailed, map[string]interface{}{"Number": "112"}), "112")
}

func TestMissingKeyFallsBackToKey(t *testing.T) {
	s, err := NewI18nSupport("en")
	require.NoError(t, err)
	assert.Equal(t, "no.such.key", s.T("en", "no.such.key", nil))
}

func TestUnknownLanguageUsesDefault(t *testing.T) {
	assert.Equal(t, "You have already responded to this alert.", T("fr", MsgResponseDuplicate, nil))
}

func TestMatchAcceptLanguage(t *testing.T) {
	s, err := NewI18nSupport("en")
	require.NoError(t, err)

	assert.Equal(t, "es", s.Match("es-MX,es;q=0.9,en;q=0.8"))
	assert.Equal(t, "en", s.Match(""))
}
