package cache

import "github.com/google/uuid"

// KeyShop returns the cache key of a shop's pricing configuration.
func KeyShop(id uuid.UUID) string {
	return "shop:" + id.String() + ":pricing"
}

// KeyCartLock returns the lock key guarding mutations of one cart.
func KeyCartLock(id uuid.UUID) string {
	return "cart:" + id.String() + ":lock"
}
