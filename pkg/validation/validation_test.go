package validation

import (
	"testing"

	"github.com/bookwell/service-booking/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createRequest struct {
	ServiceName string `validate:"required,max=120"`
	PriceCents  int64  `validate:"gt=0"`
	Currency    string `validate:"len=3"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(createRequest{ServiceName: "Deep clean", PriceCents: 100, Currency: "EUR"}))

	err := Struct(createRequest{Currency: "EURO"})
	require.Error(t, err)
	code, ok := domain.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.CodeValidation, code)
	assert.Equal(t, "Currency: must be exactly 3 characters; PriceCents: must be greater than 0; ServiceName: is required", err.Error())
}
