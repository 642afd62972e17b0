package models

// ToBaseUnits converts a declared quantity into the product's base unit.
// Only a CASE declaration against a CASE product is multiplied; everything else passes through.
func ToBaseUnits(declaredUnit UnitType, declaredQty int, product *Product) int {
	if declaredUnit != UnitTypeCase || product == nil || product.UnitType != UnitTypeCase {
		return declaredQty
	}
	perCase := product.ItemsPerCase
	if perCase < 1 {
		perCase = 1
	}
	return declaredQty * perCase
}
