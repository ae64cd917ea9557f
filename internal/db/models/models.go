package models

// Tables lists the models that back a table, in creation order.
func Tables() []any {
	return []any{
		(*Job)(nil),
		(*APIKey)(nil),
	}
}
