// Package reconcile repairs drift between recorded state and reality:
// it force-completes call sessions that outlived their maximum age and
// releases human control grants whose underlying call is gone.
package reconcile
