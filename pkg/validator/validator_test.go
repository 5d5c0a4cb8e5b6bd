package validator

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type changePasswordRequest struct {
	Current string `json:"current_password" validate:"required"`
	Next    string `json:"new_password" validate:"required,nefield=Current"`
}

type roleFilter struct {
	Role string `validate:"oneof=customer admin"`
	ID   string `validate:"omitempty,uuid"`
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	require.Error(t, err)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	return valErr.Fields()
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(loginRequest{Email: "alice@example.com", Password: "correct-horse"}))
}

func TestValidate_UsesJSONFieldNames(t *testing.T) {
	fields := fieldsOf(t, Validate(loginRequest{}))

	assert.Equal(t, "is required", fields["email"])
	assert.Equal(t, "is required", fields["password"])
	assert.NotContains(t, fields, "Email")
}

func TestValidate_Messages(t *testing.T) {
	tests := []struct {
		name  string
		input any
		field string
		want  string
	}{
		{"email", loginRequest{Email: "nope", Password: "correct-horse"}, "email", "must be a valid email address"},
		{"min", loginRequest{Email: "a@b.com", Password: "short"}, "password", "must be at least 8 characters"},
		{"max", loginRequest{Email: "a@b.com", Password: strings.Repeat("x", 73)}, "password", "must be at most 72 characters"},
		{"nefield", changePasswordRequest{Current: "same-pass", Next: "same-pass"}, "new_password", "must differ from Current"},
		{"oneof", roleFilter{Role: "root"}, "Role", "must be one of: customer admin"},
		{"uuid", roleFilter{Role: "admin", ID: "not-a-uuid"}, "ID", "must be a valid UUID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fieldsOf(t, Validate(tt.input))[tt.field])
		})
	}
}

func TestValidationError_ErrorString(t *testing.T) {
	err := Validate(loginRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'email' is required")
}

func TestDecodeAndValidate_Success(t *testing.T) {
	body := `{"email":"alice@example.com","password":"correct-horse"}`
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))

	var dst loginRequest
	require.NoError(t, DecodeAndValidate(req, &dst))
	assert.Equal(t, "alice@example.com", dst.Email)
}

func TestDecodeAndValidate_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{invalid"))

	var dst loginRequest
	err := DecodeAndValidate(req, &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_BodyTooLarge(t *testing.T) {
	body := `{"email":"` + strings.Repeat("a", MaxBodyBytes) + `@b.com"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	var dst loginRequest
	err := DecodeAndValidate(req, &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_ValidationFails(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"bad"}`))

	var dst loginRequest
	err := DecodeAndValidate(req, &dst)
	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)
}
