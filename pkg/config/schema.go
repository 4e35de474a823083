package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// manifestSchema constrains every manifest, regardless of whether it
// was written in CUE or YAML. Validation happens by unifying the loaded
// document with #Manifest.
const manifestSchema = `
#Manifest: {
	project: string & =~"^[a-zA-Z0-9_-]+$"

	vars?: {[string]: _}
	compute?: string

	tasks: {[=~"^[a-zA-Z0-9_-]+$"]: #Task}

	stack?: {
		file: string
		start_timeout?: string
	}

	credentials?: {
		profile: string
		sso_start_url?: string
		sso_region?: string
		account_id?: string
		role_name?: string
		region?: string
		always_reconfigure?: bool
	}

	policies?: {
		dir: string
		watch?: bool
	}
}

#Task: {
	description?: string
	needs?: [...string]
	guards?: [...#Guard]
	actions?: [...#Action]
}

#Action: {
	name: string
	run?: [string, ...string]
	clone?: {
		url: string
		dir: string
		ref?: string
	}
	fetch?: {
		host: string
		port?: int
		user: string
		password?: string
		private_key?: string
		known_hosts?: string
		remote: string
		local: string
	}
	infra?: {
		op: "synth" | "diff" | "deploy" | "destroy"
		binary?: string
		dir?: string
		profile?: string
		diff_first?: bool
	}
	dir?: string
	env?: {[string]: string}
	interactive?: bool
	probe?: #Probe
}

#Probe: {
	type: "path" | "command" | "http" | "tcp" | "wasm"
	path?: string
	run?: [...string]
	url?: string
	addr?: string
	module?: string
	args?: [...string]
	negate?: bool
}

#Guard: {
	name: string
	type: "env" | "command" | "policy"
	variable?: string
	run?: [...string]
	rule?: string
	remedy?: string
}
`

// schemaChecker validates decoded manifests against the CUE schema.
type schemaChecker struct {
	ctx    *cue.Context
	schema cue.Value

	once sync.Once
	err  error
}

func newSchemaChecker() *schemaChecker {
	return &schemaChecker{}
}

func (c *schemaChecker) compile() {
	c.ctx = cuecontext.New()
	val := c.ctx.CompileString(manifestSchema)
	if err := val.Err(); err != nil {
		c.err = fmt.Errorf("compile manifest schema: %w", err)
		return
	}
	c.schema = val.LookupPath(cue.ParsePath("#Manifest"))
	if err := c.schema.Err(); err != nil {
		c.err = fmt.Errorf("lookup manifest schema: %w", err)
	}
}

// check unifies raw manifest data with the schema and reports the first
// constraint violation.
func (c *schemaChecker) check(raw any) error {
	c.once.Do(c.compile)
	if c.err != nil {
		return c.err
	}

	doc := c.ctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	unified := c.schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}
