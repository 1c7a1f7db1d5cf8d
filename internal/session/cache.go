package session

import "sort"

// Cache is the keyed map of editing contexts plus the active-key pointer.
// Values go in and come out as clones so callers never alias cached slices.
type Cache struct {
	sessions map[Key]Session
	active   Key
}

// NewCache returns an empty cache with no active session.
func NewCache() *Cache {
	return &Cache{sessions: make(map[Key]Session)}
}

// Get returns a copy of the session stored under key.
func (c *Cache) Get(key Key) (Session, bool) {
	s, ok := c.sessions[key]
	if !ok {
		return Session{}, false
	}
	return s.Clone(), true
}

// Has reports whether key is cached.
func (c *Cache) Has(key Key) bool {
	_, ok := c.sessions[key]
	return ok
}

// Put stores a copy of s under key.
func (c *Cache) Put(key Key, s Session) {
	c.sessions[key] = s.Clone()
}

// Delete removes key. Deleting the active session clears the active pointer.
func (c *Cache) Delete(key Key) bool {
	if _, ok := c.sessions[key]; !ok {
		return false
	}
	delete(c.sessions, key)
	if c.active == key {
		c.active = ""
	}
	return true
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int {
	return len(c.sessions)
}

// Keys returns every cached key in ascending order.
func (c *Cache) Keys() []Key {
	keys := make([]Key, 0, len(c.sessions))
	for key := range c.sessions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Active returns the active session key, if any.
func (c *Cache) Active() (Key, bool) {
	return c.active, c.active != ""
}

// SetActive moves the active pointer. An empty key clears it. The key does
// not need to be cached yet.
func (c *Cache) SetActive(key Key) {
	c.active = key
}

// Snapshot returns a deep copy of every cached session.
func (c *Cache) Snapshot() map[Key]Session {
	out := make(map[Key]Session, len(c.sessions))
	for key, s := range c.sessions {
		out[key] = s.Clone()
	}
	return out
}

// Replace swaps the whole map for a copy of sessions. The active pointer is
// kept as-is.
func (c *Cache) Replace(sessions map[Key]Session) {
	c.sessions = make(map[Key]Session, len(sessions))
	for key, s := range sessions {
		c.sessions[key] = s.Clone()
	}
}
