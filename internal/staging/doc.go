// Package staging reclaims session staging directories.
//
// Each session keeps its original and transformed artifacts under
// <staging_dir>/<session id>. Deleting a session removes its directory, but a
// crash between writing artifacts and committing the row can leave a
// directory that no session owns. CleanOrphaned finds and removes those.
package staging
