// Package apply turns queued mutations into authority writes. Each mutation
// variant has its own applier; updates consult the conflict service before
// writing so a diverged authority copy is never blindly overwritten.
package apply
