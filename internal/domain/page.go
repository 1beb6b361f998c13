package domain

import "encoding/json"

// Page is one batch of a paginated JSON collection
type Page struct {
	URL   string
	Items []json.RawMessage
	// Next is empty on the last page.
	Next string
}
