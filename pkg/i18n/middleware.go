package i18n

import (
	"net/http"
)

// Middleware extracts locale from Accept-Language header and adds it to context.
// A ?lang= query parameter overrides the header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := ParseAcceptLanguage(r.Header.Get("Accept-Language"))
		if lang := r.URL.Query().Get("lang"); lang != "" {
			locale = Normalize(lang)
		}

		w.Header().Set("Content-Language", locale)
		next.ServeHTTP(w, r.WithContext(WithLocale(r.Context(), locale)))
	})
}
