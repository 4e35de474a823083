package source

import (
	"path/filepath"

	"github.com/groundcrew/groundcrew/pkg/engine"
)

// GitRepo describes a repository to have on disk.
type GitRepo struct {
	// URL is the clone URL.
	URL string

	// Dir is the local checkout directory.
	Dir string

	// Ref is an optional branch or tag to clone.
	Ref string
}

// Probe reports whether the checkout already exists, keyed on the
// .git directory so a plain empty directory still triggers a clone.
func (g GitRepo) Probe() engine.Probe {
	return engine.PathProbe{Path: filepath.Join(g.Dir, ".git")}
}

// CloneCommand builds the git clone invocation.
func (g GitRepo) CloneCommand() engine.Command {
	argv := []string{"git", "clone"}
	if g.Ref != "" {
		argv = append(argv, "--branch", g.Ref)
	}
	argv = append(argv, g.URL, g.Dir)
	return engine.ExecCommand{Argv: argv}
}

// CloneAction wraps the clone as an idempotent action: an existing
// checkout is left untouched.
func (g GitRepo) CloneAction() *engine.Action {
	return &engine.Action{
		Name:  "clone " + g.URL,
		Probe: g.Probe(),
		Body:  g.CloneCommand(),
	}
}
