package models

// Resource is a tenant-owned row that can be served from the cache.
type Resource interface {
	GetBusinessId() string
}

func (b Branch) GetBusinessId() string {
	return b.BusinessId
}

func (w Warehouse) GetBusinessId() string {
	return w.BusinessId
}

func (d Department) GetBusinessId() string {
	return d.BusinessId
}

func (s Supplier) GetBusinessId() string {
	return s.BusinessId
}

func (u User) GetBusinessId() string {
	return u.BusinessId
}
