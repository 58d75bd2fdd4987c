package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	secret, err := GenerateSecureSecret()
	if err != nil {
		t.Fatalf("Ошибка генерации секрета: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		t.Fatalf("Секрет не в base64: %v", err)
	}
	issuer, err := NewTokenIssuer(raw, time.Hour)
	if err != nil {
		t.Fatalf("Ошибка создания TokenIssuer: %v", err)
	}
	return issuer
}

// TestGenerateAndValidate тестирует полный жизненный цикл токена
func TestGenerateAndValidate(t *testing.T) {
	issuer := newTestIssuer(t)

	token, err := issuer.Generate("vin", true)
	if err != nil {
		t.Fatalf("Ошибка генерации JWT: %v", err)
	}

	// Проверяем, что токен содержит точки (разделители частей JWT)
	if strings.Count(token, ".") != 2 {
		t.Errorf("Неверный формат JWT токена: %s", token)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Валидный токен определен как недействительный: %v", err)
	}
	if claims.Operator != "vin" || !claims.IsAdmin {
		t.Errorf("Неверные claims: %+v", claims)
	}

	plain, err := issuer.Generate("kelsier", false)
	if err != nil {
		t.Fatalf("Ошибка генерации JWT: %v", err)
	}
	claims, err = issuer.Validate(plain)
	if err != nil {
		t.Fatalf("Ошибка валидации: %v", err)
	}
	if claims.IsAdmin {
		t.Error("isAdmin должен быть false для обычного оператора")
	}
}

// TestValidateInvalidJWT тестирует валидацию недействительного JWT
func TestValidateInvalidJWT(t *testing.T) {
	issuer := newTestIssuer(t)

	testCases := []string{
		"invalid.token.here",
		"",
		"not.a.jwt",
		"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid.signature",
	}

	for _, invalidToken := range testCases {
		if _, err := issuer.Validate(invalidToken); err == nil {
			t.Errorf("Недействительный токен '%s' прошел валидацию", invalidToken)
		}
	}

	// токен другого ключа
	other := newTestIssuer(t)
	token, err := other.Generate("marsh", true)
	if err != nil {
		t.Fatalf("Ошибка генерации JWT: %v", err)
	}
	if _, err := issuer.Validate(token); err == nil {
		t.Error("Токен с чужой подписью прошел валидацию")
	}
}

func TestExpiredToken(t *testing.T) {
	issuer := newTestIssuer(t)
	claims := &Claims{
		Operator: "sazed",
		IsAdmin:  true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    Issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(issuer.secret)
	if err != nil {
		t.Fatalf("Ошибка подписи: %v", err)
	}
	if _, err := issuer.Validate(token); err == nil {
		t.Error("Просроченный токен прошел валидацию")
	}
}

func TestShortSecretRejected(t *testing.T) {
	if _, err := NewTokenIssuer([]byte("too-short"), time.Hour); err == nil {
		t.Error("Короткий секрет был принят")
	}
}

// TestGenerateSecureSecret тестирует генерацию секретного ключа
func TestGenerateSecureSecret(t *testing.T) {
	secret1, err := GenerateSecureSecret()
	if err != nil {
		t.Fatalf("Ошибка генерации первого секрета: %v", err)
	}
	secret2, err := GenerateSecureSecret()
	if err != nil {
		t.Fatalf("Ошибка генерации второго секрета: %v", err)
	}

	if secret1 == secret2 {
		t.Error("Два последовательных вызова GenerateSecureSecret вернули одинаковый результат")
	}
	// base64 от 32 байт = 44 символа
	if len(secret1) < 40 {
		t.Error("Секрет слишком короткий")
	}
}
