package models

// Delivery is the routing instruction produced for the transport: the stored
// message and who should receive it.
type Delivery struct {
	Message       Message    `json:"message"`
	RecipientID   string     `json:"recipient_id"`
	RecipientType SenderType `json:"recipient_type"`
}

// Page is a window of a newest-first or chronological listing.
type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// Offset converts a 1-based page into a row offset.
func Offset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}
