package donation

import (
	"strings"

	"github.com/clothbridge/clothbridge/internal/app/domain/catalog"
	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
)

// ParseCondition canonicalises a condition label such as "like new".
func ParseCondition(raw string) (string, bool) {
	return catalog.Lookup(catalog.Conditions, raw)
}

// Normalize trims free text, canonicalises option values and checks the
// fields a donor must supply. Categories and clothing types may be empty when
// the donation answers a request; the caller copies them from it.
func (d *Donation) Normalize() error {
	d.FullName = strings.TrimSpace(d.FullName)
	d.Email = strings.TrimSpace(d.Email)
	d.Comments = strings.TrimSpace(d.Comments)

	if d.FullName == "" {
		return svcerrors.Validation("full_name", "full name is required")
	}
	cond, ok := ParseCondition(d.Condition)
	if !ok {
		return svcerrors.Validation("condition", "condition must be one of New, Like New, Good, Fair")
	}
	d.Condition = cond

	cats, err := catalog.Normalize(catalog.Categories, d.Categories)
	if err != nil {
		return svcerrors.Validation("categories", err.Error())
	}
	types, err := catalog.Normalize(catalog.ClothingTypes, d.ClothingTypes)
	if err != nil {
		return svcerrors.Validation("clothing_type", err.Error())
	}
	d.Categories, d.ClothingTypes = cats, types

	if d.RequestID == "" {
		if len(d.Categories) == 0 {
			return svcerrors.Validation("categories", "select at least one category")
		}
		if len(d.ClothingTypes) == 0 {
			return svcerrors.Validation("clothing_type", "select at least one clothing type")
		}
	}
	return nil
}
