// Package sqlite implements the session store on an embedded SQLite database.
package sqlite
