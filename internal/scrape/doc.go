// Package scrape defines the types, interfaces, and error taxonomy shared by
// the render gateway, the cache, the fetch coordinator, and the preload manager.
package scrape
