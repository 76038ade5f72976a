// Package language holds the table of supported language tags and their
// display names. The table is injected from configuration.
package language
