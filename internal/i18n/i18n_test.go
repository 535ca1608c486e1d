package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		lang string
		want string
	}{
		{"en", "The requested record was not found."},
		{"ru", "Запрошенная запись не найдена."},
		{"de", "The requested record was not found."},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			ctx := initLang(t, tt.lang)
			if got := T(ctx, "ErrNotFound"); got != tt.want {
				t.Errorf("T(ErrNotFound) = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPluralTranslation(t *testing.T) {
	tests := []struct {
		lang  string
		count int
		want  string
	}{
		{"en", 1, "Not enough seats left in the quota: 1 seat short."},
		{"en", 5, "Not enough seats left in the quota: 5 seats short."},
		{"ru", 1, "Недостаточно мест в квоте: не хватает 1 места."},
		{"ru", 5, "Недостаточно мест в квоте: не хватает 5 мест."},
	}
	for _, tt := range tests {
		ctx := initLang(t, tt.lang)
		if got := Tp(ctx, "ErrQuotaExceeded", tt.count); got != tt.want {
			t.Errorf("%s Tp(ErrQuotaExceeded, %d) = %q, want %q", tt.lang, tt.count, got, tt.want)
		}
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ErrCapacity", map[string]any{"Room": "A", "Capacity": 2, "Size": 3})
	if got != "Room A holds 2 students, 3 were assigned." {
		t.Errorf("Td(ErrCapacity) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewareUsesAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "ErrSessionNotLive")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en;q=0.8")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Сессия не идёт." {
		t.Errorf("ru request = %q", got)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got != "The session is not live." {
		t.Errorf("default request = %q", got)
	}
}
