package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAcceptLanguage(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", LocaleGerman},
		{"de-DE,de;q=0.9", LocaleGerman},
		{"en-US,en;q=0.9", LocaleEnglish},
		{"en-GB;q=0.4,de-AT;q=0.8", LocaleGerman},
		{"fr-FR", LocaleGerman},
		{"not a header;;;", LocaleGerman},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAcceptLanguage(tt.header))
		})
	}
}

func TestLocalizer_T(t *testing.T) {
	de := NewLocalizer(LocaleGerman)
	en := NewLocalizer("en-US")

	assert.Equal(t, LocaleEnglish, en.GetLocale())
	assert.Equal(t, "Unverbindlicher Hinweis", de.T("disclaimer.title"))
	assert.Equal(t, "Non-binding notice", en.T("disclaimer.title"))
	assert.Equal(t, "Auflage: nur mit Distanzscheiben", de.T("warnings.restriction", map[string]string{"restriction": "nur mit Distanzscheiben"}))
	assert.Equal(t, "missing.key", en.T("missing.key"))
	assert.Equal(t, "nein", de.Pick("nein", "no"))
	assert.Equal(t, "no", en.Pick("nein", "no"))
	assert.Equal(t, "nein", en.Pick("nein", ""))
}

func TestMiddleware(t *testing.T) {
	var got string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetLocaleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "en")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, LocaleEnglish, got)
	assert.Equal(t, LocaleEnglish, rec.Header().Get("Content-Language"))

	req = httptest.NewRequest(http.MethodGet, "/?lang=de", nil)
	req.Header.Set("Accept-Language", "en")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, LocaleGerman, got)

	assert.Equal(t, DefaultLocale, GetLocaleFromContext(context.Background()))
}
