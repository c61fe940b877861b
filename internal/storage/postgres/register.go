package postgres

import "github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"

func init() {
	// registers the record store factory
	storage.Register("postgres", New)
}
