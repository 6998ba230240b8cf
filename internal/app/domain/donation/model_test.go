package donation

import (
	"testing"

	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusAvailable, StatusTaken, true},
		{StatusTaken, StatusFulfilled, true},
		{StatusAvailable, StatusFulfilled, false},
		{StatusTaken, StatusAvailable, false},
		{StatusFulfilled, StatusTaken, false},
		{StatusFulfilled, StatusAvailable, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransition(t *testing.T) {
	d := Donation{ID: "d1", Status: StatusAvailable}
	require.NoError(t, d.Transition(StatusTaken))
	assert.Equal(t, StatusTaken, d.Status)
	assert.Error(t, d.Transition(StatusTaken))
}

func TestListed(t *testing.T) {
	assert.True(t, Donation{Status: StatusAvailable}.Listed())
	assert.False(t, Donation{Status: StatusAvailable, RequestID: "r1"}.Listed())
	assert.False(t, Donation{Status: StatusTaken}.Listed())
}

func TestNormalize(t *testing.T) {
	d := Donation{
		FullName:      "  Asha ",
		Condition:     "like new",
		Categories:    []string{"Women", "women"},
		ClothingTypes: []string{"Dresses"},
	}
	require.NoError(t, d.Normalize())
	assert.Equal(t, "Asha", d.FullName)
	assert.Equal(t, "Like New", d.Condition)
	assert.Equal(t, []string{"women"}, d.Categories)
	assert.Equal(t, []string{"dresses"}, d.ClothingTypes)
}

func TestNormalizeRejects(t *testing.T) {
	cases := map[string]Donation{
		"full_name":     {Condition: "Good", Categories: []string{"men"}, ClothingTypes: []string{"shirts"}},
		"condition":     {FullName: "x", Condition: "Torn", Categories: []string{"men"}, ClothingTypes: []string{"shirts"}},
		"categories":    {FullName: "x", Condition: "Good", ClothingTypes: []string{"shirts"}},
		"clothing_type": {FullName: "x", Condition: "Good", Categories: []string{"men"}},
	}
	for field, d := range cases {
		err := d.Normalize()
		svcErr := svcerrors.GetServiceError(err)
		require.NotNil(t, svcErr, field)
		assert.Equal(t, field, svcErr.Details["field"], field)
	}
}

func TestNormalizeAnsweringRequestAllowsEmptyTypes(t *testing.T) {
	d := Donation{FullName: "x", Condition: "Fair", RequestID: "r1"}
	assert.NoError(t, d.Normalize())
}
