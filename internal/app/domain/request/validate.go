package request

import (
	"strings"

	"github.com/clothbridge/clothbridge/internal/app/domain/catalog"
	svcerrors "github.com/clothbridge/clothbridge/internal/errors"
)

const (
	minAge = 1
	maxAge = 120
)

// Normalize trims free text, canonicalises option values and enforces the
// request form rules.
func (r *Request) Normalize() error {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Email = strings.TrimSpace(r.Email)
	r.Address = strings.TrimSpace(r.Address)
	r.RationCardNumber = strings.TrimSpace(r.RationCardNumber)
	r.AdditionalInfo = strings.TrimSpace(r.AdditionalInfo)

	if r.FullName == "" {
		return svcerrors.Validation("full_name", "full name is required")
	}
	if r.Age < minAge || r.Age > maxAge {
		return svcerrors.Validation("age", "age must be between 1 and 120")
	}
	if r.Phone == "" {
		return svcerrors.Validation("phone", "phone is required")
	}
	if r.Address == "" {
		return svcerrors.Validation("address", "address is required")
	}

	var ok bool
	if r.Gender, ok = catalog.Lookup(catalog.Genders, r.Gender); !ok {
		return svcerrors.Validation("gender", "gender must be male, female or other")
	}
	if r.RationCardType != "" {
		if r.RationCardType, ok = catalog.Lookup(catalog.RationCardTypes, r.RationCardType); !ok {
			return svcerrors.Validation("ration_card_type", "ration card type must be apl, bpl or aay")
		}
	}
	if r.ClothingSize != "" {
		if r.ClothingSize, ok = catalog.Lookup(catalog.Sizes, r.ClothingSize); !ok {
			return svcerrors.Validation("clothing_size", "unknown clothing size")
		}
	}

	cats, err := catalog.Normalize(catalog.Categories, r.Categories)
	if err != nil {
		return svcerrors.Validation("categories", err.Error())
	}
	types, err := catalog.Normalize(catalog.ClothingTypes, r.ClothingTypes)
	if err != nil {
		return svcerrors.Validation("clothing_type", err.Error())
	}
	if len(cats) == 0 {
		return svcerrors.Validation("categories", "select at least one category")
	}
	if len(types) == 0 {
		return svcerrors.Validation("clothing_type", "select at least one clothing type")
	}
	r.Categories, r.ClothingTypes = cats, types
	return nil
}
