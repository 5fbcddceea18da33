// Package backup writes datastore snapshots to bundle files and manages
// them: listing, verification, retention and staging a bundle as the
// restore artifact of the next start.
//
// Files are named backup-<ULID>.mbk, so lexical order is creation order.
//
// @design DS-0602
package backup
