package common

import (
	"errors"
	"strings"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

// PauseSet is a static pause view built from configuration.
type PauseSet map[string]bool

// NewPauseSet marks every listed module as paused. Names are
// case-insensitive.
func NewPauseSet(modules ...string) PauseSet {
	set := make(PauseSet, len(modules))
	for _, module := range modules {
		if name := strings.ToLower(strings.TrimSpace(module)); name != "" {
			set[name] = true
		}
	}
	return set
}

func (s PauseSet) IsPaused(module string) bool {
	return s[strings.ToLower(strings.TrimSpace(module))]
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
