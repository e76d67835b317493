package rowapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/internal/auth"
)

func TestJWTAuth_GenerateAndValidate(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	token, err := jwtAuth.GenerateToken("midwife-7", "tablet-3", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	claims, err := jwtAuth.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate generated token: %v", err)
	}
	if claims.Subject != "midwife-7" {
		t.Errorf("Expected sub midwife-7, got %s", claims.Subject)
	}
	if claims.DeviceID != "tablet-3" {
		t.Errorf("Expected did tablet-3, got %s", claims.DeviceID)
	}
	if claims.Issuer != "pph-rowapi" {
		t.Errorf("Expected issuer 'pph-rowapi', got %s", claims.Issuer)
	}

	expectedExpiry := time.Now().Add(time.Hour)
	if diff := claims.ExpiresAt.Time.Sub(expectedExpiry).Abs(); diff > time.Second {
		t.Errorf("Token expiry differs by %v", diff)
	}
}

func TestJWTAuth_ValidateToken_Rejects(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	expired, _ := jwtAuth.GenerateToken("u", "d", -time.Minute)
	otherSecret, _ := NewJWTAuth("other-secret").GenerateToken("u", "d", time.Hour)
	noDevice, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: tokenIssuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("test-secret"))
	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		DeviceID:         "d",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("test-secret"))
	foreign, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		DeviceID:         "d",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "elsewhere", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("test-secret"))

	cases := map[string]string{
		"expired":      expired,
		"wrong secret": otherSecret,
		"missing did":  noDevice,
		"missing sub":  noUser,
		"other issuer": foreign,
		"garbage":      "not.a.token",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := jwtAuth.ValidateToken(tok); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestJWTAuth_Middleware(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	var gotUser, gotDevice string
	h := jwtAuth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = auth.GetUserID(r.Context())
		gotDevice, _ = auth.GetDeviceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := jwtAuth.GenerateToken("midwife-7", "tablet-3", time.Hour)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/rows/cases", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if gotUser != "midwife-7" || gotDevice != "tablet-3" {
		t.Fatalf("unexpected auth context: %q %q", gotUser, gotDevice)
	}

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer not.a.token"} {
		req := httptest.NewRequest(http.MethodGet, "/rows/cases", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}
