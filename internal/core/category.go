package core

// Category is one entry of the fixed category set with its display labels.
type Category struct {
	Value   string `json:"value"`
	Label   string `json:"label"`
	LabelFa string `json:"labelFa"`
}

var categories = []Category{
	// Housing
	{Value: "Rent", Label: "Rent", LabelFa: "اجاره"},
	{Value: "Utilities", Label: "Utilities", LabelFa: "قبوض"},

	// Food
	{Value: "Groceries", Label: "Groceries", LabelFa: "خواربار"},
	{Value: "Coffee", Label: "Coffee", LabelFa: "رستوران و کافه"},

	// Daily
	{Value: "Transport", Label: "Transport", LabelFa: "حمل‌ و نقل"},
	{Value: "Healthcare", Label: "Healthcare", LabelFa: "بهداشت و درمان"},
	{Value: "Clothing", Label: "Clothing", LabelFa: "پوشاک"},

	// Lifestyle
	{Value: "Entertainment", Label: "Entertainment", LabelFa: "سرگرمی"},
	{Value: "Travel", Label: "Travel", LabelFa: "سفر"},

	{Value: "Investment", Label: "Investment", LabelFa: "سرمایه‌گذاری"},
	{Value: "Work", Label: "Work", LabelFa: "کار"},
	{Value: "Other", Label: "Other", LabelFa: "سایر"},
}

var categoryIndex = func() map[string]Category {
	m := make(map[string]Category, len(categories))
	for _, c := range categories {
		m[c.Value] = c
	}
	return m
}()

// Categories returns a copy of the fixed category set in display order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

func IsKnownCategory(value string) bool {
	_, ok := categoryIndex[value]
	return ok
}

// CategoryLabel returns the labels for value, falling back to the raw value
// for categories outside the set (rows written before the set was fixed).
func CategoryLabel(value string) Category {
	if c, ok := categoryIndex[value]; ok {
		return c
	}
	return Category{Value: value, Label: value, LabelFa: value}
}
