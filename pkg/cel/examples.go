package cel

// FilterExpressionExamples are expressions UseExpression accepts. The admin
// API serves them as hints for operators writing endpoint filters.
var FilterExpressionExamples = map[string]string{
	"by_type":              `type == "order.submitted"`,
	"type_prefix":          `type.startsWith("order.")`,
	"simple_equals":        `payload.status == "active"`,
	"numeric_greater_than": `payload.amount > 100.0`,
	"string_contains":      `payload.email.contains("@example.com")`,
	"in_list":              `payload.status in ["active", "pending", "processing"]`,
	"range_check":          `payload.amount >= 10.0 && payload.amount <= 10000.0`,
	"nested_field":         `payload.customer.tier == "premium"`,
	"top_level_source":     `source == "checkout"`,
	"has_field":            `has(payload.email) && payload.email != ""`,
	"correlated_only":      `correlation_id != ""`,
	"first_delivery":       `!has(metadata.delivery) || metadata.delivery.attempt <= 1`,
}
