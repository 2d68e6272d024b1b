// Package hub provides in-memory pub/sub for organization-scoped dashboard
// events, with best-effort delivery and a small replay ring for late joiners.
package hub
