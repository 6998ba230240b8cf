package request

import (
	"testing"

	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() Request {
	return Request{
		FullName:      "Ravi",
		Age:           34,
		Gender:        "Male",
		Phone:         "9876543210",
		Address:       "12 Lake Road",
		ClothingTypes: []string{"jackets"},
		Categories:    []string{"men"},
		ClothingSize:  "XL",
	}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusOpen.CanTransition(StatusFulfilled))
	assert.False(t, StatusFulfilled.CanTransition(StatusOpen))
	assert.False(t, StatusOpen.CanTransition(StatusOpen))
}

func TestNormalize(t *testing.T) {
	r := validRequest()
	r.RationCardType = "BPL"
	require.NoError(t, r.Normalize())
	assert.Equal(t, "male", r.Gender)
	assert.Equal(t, "xl", r.ClothingSize)
	assert.Equal(t, "bpl", r.RationCardType)
}

func TestNormalizeRejects(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*Request)
	}{
		{"full_name", func(r *Request) { r.FullName = " " }},
		{"age", func(r *Request) { r.Age = 0 }},
		{"age", func(r *Request) { r.Age = 121 }},
		{"phone", func(r *Request) { r.Phone = "" }},
		{"address", func(r *Request) { r.Address = "" }},
		{"gender", func(r *Request) { r.Gender = "unknown" }},
		{"ration_card_type", func(r *Request) { r.RationCardType = "gold" }},
		{"clothing_size", func(r *Request) { r.ClothingSize = "xxxl" }},
		{"categories", func(r *Request) { r.Categories = nil }},
		{"clothing_type", func(r *Request) { r.ClothingTypes = []string{"capes"} }},
	}
	for _, tc := range cases {
		r := validRequest()
		tc.mutate(&r)
		svcErr := svcerrors.GetServiceError(r.Normalize())
		require.NotNil(t, svcErr, tc.field)
		assert.Equal(t, tc.field, svcErr.Details["field"])
	}
}

func TestRedacted(t *testing.T) {
	r := validRequest()
	r.RationCardNumber = "RC-1"
	r.RationCardPhoto = "https://x/photo.png"
	out := r.Redacted()
	assert.Empty(t, out.Phone)
	assert.Empty(t, out.Address)
	assert.Empty(t, out.RationCardNumber)
	assert.Empty(t, out.RationCardPhoto)
	assert.Equal(t, "Ravi", out.FullName)
	assert.Equal(t, "9876543210", r.Phone)
}
