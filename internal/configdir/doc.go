// Package configdir owns the on-disk configuration directory: where it lives, the default
// documents copied into it on first start and the server secret generated alongside them.
//
// Every file this package touches lives inside the resolved directory. Existing files are
// never rewritten; a fresh install is detected by the absence of all expected files.
package configdir
