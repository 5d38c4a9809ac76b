// Package entity maps host objects to integer identifiers that can cross the
// native boundary.
//
// A Registry issues an ID when an object is registered and resolves it back
// while the object stays registered. IDs are never reused: a slot freed by
// Unregister is handed out again only with a new generation, so a stale ID
// from native code resolves to nothing instead of to a different object.
//
//	sessions := entity.NewRegistry[*Session]()
//	id := sessions.Register(s)
//	native.Start(id.Value())
//
//	// later, from a callback
//	s, ok := sessions.Get(entity.IDFrom[*Session](raw))
package entity
