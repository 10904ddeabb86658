package ids

import "github.com/segmentio/ksuid"

// New returns a sortable unique document id.
func New() string {
	return ksuid.New().String()
}
