// Package catalog holds the fixed option sets offered by the donation and
// request forms.
package catalog

import (
	"fmt"
	"strings"
)

// Option is a selectable value with its display label.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var Categories = []Option{
	{"men", "Men"},
	{"women", "Women"},
	{"kids", "Kids"},
	{"unisex", "Unisex"},
}

var ClothingTypes = []Option{
	{"shirts", "Shirts"},
	{"t-shirts", "T-Shirts"},
	{"pants", "Pants"},
	{"jeans", "Jeans"},
	{"dresses", "Dresses"},
	{"skirts", "Skirts"},
	{"sweaters", "Sweaters"},
	{"jackets", "Jackets"},
	{"shoes", "Shoes"},
	{"ethnic", "Ethnic Wear"},
	{"winterwear", "Winter Wear"},
	{"accessories", "Accessories"},
}

var Conditions = []Option{
	{"New", "New"},
	{"Like New", "Like New"},
	{"Good", "Good"},
	{"Fair", "Fair"},
}

var Genders = []Option{
	{"male", "Male"},
	{"female", "Female"},
	{"other", "Other"},
}

var RationCardTypes = []Option{
	{"apl", "APL (Above Poverty Line)"},
	{"bpl", "BPL (Below Poverty Line)"},
	{"aay", "AAY (Antyodaya Anna Yojana)"},
}

var Sizes = []Option{
	{"xs", "XS"},
	{"s", "S"},
	{"m", "M"},
	{"l", "L"},
	{"xl", "XL"},
	{"xxl", "XXL"},
}

// Catalog is the payload served to form clients.
type Catalog struct {
	Categories      []Option `json:"categories"`
	ClothingTypes   []Option `json:"clothing_types"`
	Conditions      []Option `json:"conditions"`
	Genders         []Option `json:"genders"`
	RationCardTypes []Option `json:"ration_card_types"`
	Sizes           []Option `json:"sizes"`
}

// All returns every option set.
func All() Catalog {
	return Catalog{
		Categories:      Categories,
		ClothingTypes:   ClothingTypes,
		Conditions:      Conditions,
		Genders:         Genders,
		RationCardTypes: RationCardTypes,
		Sizes:           Sizes,
	}
}

// Lookup returns the canonical value in set matching raw case-insensitively.
func Lookup(set []Option, raw string) (string, bool) {
	needle := strings.TrimSpace(raw)
	for _, opt := range set {
		if strings.EqualFold(opt.Value, needle) {
			return opt.Value, true
		}
	}
	return "", false
}

// Normalize canonicalises and de-duplicates values, preserving order. The
// first unknown value is reported.
func Normalize(set []Option, values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, raw := range values {
		v, ok := Lookup(set, raw)
		if !ok {
			return nil, fmt.Errorf("unknown value %q", raw)
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// Label returns the display label for value, or value itself.
func Label(set []Option, value string) string {
	for _, opt := range set {
		if opt.Value == value {
			return opt.Label
		}
	}
	return value
}
