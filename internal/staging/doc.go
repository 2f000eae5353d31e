// Package staging manages the session scope directories under the workspace.
//
// Each live session owns one directory named by its id. Sweep runs at process
// start and removes every scope directory that does not belong to a live
// session; entries that are not named by a session id are never touched.
// RemoveScope runs when a session is discarded or exported. Both are best
// effort: a file that cannot be removed is reported and the rest are still
// deleted.
package staging
