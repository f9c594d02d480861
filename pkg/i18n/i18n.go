package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

//go:embed messages/*.json
var messagesFS embed.FS

// Supported locales
const (
	LocaleGerman  = "de"
	LocaleEnglish = "en"
	DefaultLocale = LocaleGerman
)

// Context key for locale
type localeKey struct{}

var (
	messages     map[string]map[string]interface{}
	messagesOnce sync.Once

	// first tag is the fallback for unmatched headers
	supported = []language.Tag{language.German, language.English}
	matcher   = language.NewMatcher(supported)
)

// loadMessages loads all message files from embedded filesystem
func loadMessages() {
	messagesOnce.Do(func() {
		messages = make(map[string]map[string]interface{})

		for _, locale := range []string{LocaleGerman, LocaleEnglish} {
			data, err := messagesFS.ReadFile("messages/" + locale + ".json")
			if err != nil {
				continue
			}

			var msg map[string]interface{}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			messages[locale] = msg
		}
	})
}

// Localizer handles message localization
type Localizer struct {
	locale string
}

// NewLocalizer creates a new localizer for the given locale
func NewLocalizer(locale string) *Localizer {
	loadMessages()
	return &Localizer{locale: Normalize(locale)}
}

// LocalizerFromContext creates a localizer from context
func LocalizerFromContext(ctx context.Context) *Localizer {
	return NewLocalizer(GetLocaleFromContext(ctx))
}

// Normalize maps any locale string onto a supported locale, German when unsupported.
func Normalize(locale string) string {
	switch strings.ToLower(locale) {
	case LocaleGerman:
		return LocaleGerman
	case LocaleEnglish:
		return LocaleEnglish
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return DefaultLocale
	}
	base, _ := tag.Base()
	if base.String() == LocaleEnglish {
		return LocaleEnglish
	}
	return DefaultLocale
}

// T translates a message key with optional parameters
func (l *Localizer) T(key string, params ...map[string]string) string {
	msg := getMessage(key, l.locale)
	if msg == "" {
		msg = getMessage(key, DefaultLocale)
	}
	if msg == "" {
		return key
	}

	if len(params) > 0 {
		for k, v := range params[0] {
			msg = strings.ReplaceAll(msg, "{"+k+"}", v)
		}
	}

	return msg
}

// Pick returns de or en depending on the localizer's locale
func (l *Localizer) Pick(de, en string) string {
	if l.locale == LocaleEnglish && en != "" {
		return en
	}
	return de
}

// getMessage retrieves a nested message by dot-notation key
func getMessage(key string, locale string) string {
	current, ok := messages[locale]
	if !ok {
		return ""
	}

	parts := strings.Split(key, ".")
	for i, part := range parts {
		if i == len(parts)-1 {
			str, _ := current[part].(string)
			return str
		}
		nested, ok := current[part].(map[string]interface{})
		if !ok {
			return ""
		}
		current = nested
	}

	return ""
}

// GetLocale returns the current locale
func (l *Localizer) GetLocale() string {
	return l.locale
}

// WithLocale adds locale to context
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// GetLocaleFromContext retrieves locale from context
func GetLocaleFromContext(ctx context.Context) string {
	if locale, ok := ctx.Value(localeKey{}).(string); ok && locale != "" {
		return locale
	}
	return DefaultLocale
}

// ParseAcceptLanguage returns the best supported locale for an Accept-Language header.
// Quality weights are honoured; unsupported or empty headers give the default.
func ParseAcceptLanguage(header string) string {
	if header == "" {
		return DefaultLocale
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return DefaultLocale
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return DefaultLocale
	}
	if supported[idx] == language.English {
		return LocaleEnglish
	}
	return LocaleGerman
}

// T translates using the default locale
func T(key string, params ...map[string]string) string {
	return NewLocalizer(DefaultLocale).T(key, params...)
}

// TWithLocale translates using the specified locale
func TWithLocale(locale, key string, params ...map[string]string) string {
	return NewLocalizer(locale).T(key, params...)
}

// TFromContext translates using locale from context
func TFromContext(ctx context.Context, key string, params ...map[string]string) string {
	return LocalizerFromContext(ctx).T(key, params...)
}
