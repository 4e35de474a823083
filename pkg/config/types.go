package config

// Manifest is the root configuration document for one project.
type Manifest struct {
	// Project is the project name, used for stack and journal naming.
	Project string `json:"project" yaml:"project" validate:"required"`

	// Vars are static variables available for ${name} expansion.
	Vars map[string]any `json:"vars,omitempty" yaml:"vars,omitempty"`

	// Compute is an optional Starlark script; its exported globals
	// merge into Vars before expansion.
	Compute string `json:"compute,omitempty" yaml:"compute,omitempty"`

	// Tasks maps task names to their definitions.
	Tasks map[string]TaskConfig `json:"tasks" yaml:"tasks" validate:"required,dive"`

	// Stack configures the local service stack, nil when the project
	// has none.
	Stack *StackConfig `json:"stack,omitempty" yaml:"stack,omitempty"`

	// Credentials configures the cloud credential profile, nil when
	// the project needs none.
	Credentials *CredentialConfig `json:"credentials,omitempty" yaml:"credentials,omitempty"`

	// Policies configures rego guard policies, nil when unused.
	Policies *PolicyConfig `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// TaskConfig defines one task in the graph.
type TaskConfig struct {
	// Description is optional human-readable text shown by planning.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Needs lists prerequisite task names.
	Needs []string `json:"needs,omitempty" yaml:"needs,omitempty"`

	// Guards are preconditions checked immediately before the task.
	Guards []GuardConfig `json:"guards,omitempty" yaml:"guards,omitempty" validate:"dive"`

	// Actions form the task body, executed in order.
	Actions []ActionConfig `json:"actions,omitempty" yaml:"actions,omitempty" validate:"dive"`
}

// ActionConfig defines one idempotent action. Exactly one body form is
// set: Run, Clone, Fetch, or Infra.
type ActionConfig struct {
	// Name labels the action in logs and reports.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Run is the command and its arguments.
	Run []string `json:"run,omitempty" yaml:"run,omitempty" validate:"omitempty,min=1"`

	// Clone makes the action a git clone, skipped when the repository
	// is already on disk.
	Clone *CloneConfig `json:"clone,omitempty" yaml:"clone,omitempty"`

	// Fetch makes the action an SFTP download, skipped when the local
	// copy already exists.
	Fetch *FetchConfig `json:"fetch,omitempty" yaml:"fetch,omitempty"`

	// Infra makes the action an infrastructure CLI operation.
	Infra *InfraConfig `json:"infra,omitempty" yaml:"infra,omitempty"`

	// Dir is the working directory, empty for the process default.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Env holds additional environment variables.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Interactive attaches the command to the terminal, required for
	// browser-based login flows that prompt on stdin.
	Interactive bool `json:"interactive,omitempty" yaml:"interactive,omitempty"`

	// Probe makes the action idempotent: when the probe reports the
	// desired state already exists, the command is skipped.
	Probe *ProbeConfig `json:"probe,omitempty" yaml:"probe,omitempty"`
}

// CloneConfig clones a git repository.
type CloneConfig struct {
	// URL is the repository to clone.
	URL string `json:"url" yaml:"url" validate:"required"`

	// Dir is the destination directory, relative to the manifest.
	Dir string `json:"dir" yaml:"dir" validate:"required"`

	// Ref is an optional branch or tag to check out.
	Ref string `json:"ref,omitempty" yaml:"ref,omitempty"`
}

// FetchConfig downloads a remote file or directory over SFTP.
type FetchConfig struct {
	// Host is the SSH server.
	Host string `json:"host" yaml:"host" validate:"required"`

	// Port is the SSH port, 22 when zero.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// User is the SSH login user.
	User string `json:"user" yaml:"user" validate:"required"`

	// Password authenticates when no private key is given.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// PrivateKey is the key file path, relative to the manifest.
	PrivateKey string `json:"private_key,omitempty" yaml:"private_key,omitempty"`

	// KnownHosts is the known_hosts file used to verify the server.
	KnownHosts string `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`

	// Remote is the path on the server.
	Remote string `json:"remote" yaml:"remote" validate:"required"`

	// Local is the destination path, relative to the manifest.
	Local string `json:"local" yaml:"local" validate:"required"`
}

// InfraConfig runs one operation of an infrastructure-as-code CLI.
type InfraConfig struct {
	// Op selects the operation.
	Op string `json:"op" yaml:"op" validate:"required,oneof=synth diff deploy destroy"`

	// Binary is the IaC CLI, "cdk" when empty.
	Binary string `json:"binary,omitempty" yaml:"binary,omitempty"`

	// Dir is the working directory, relative to the manifest.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Profile is the credential profile passed to the CLI.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// DiffFirst previews the change before a deploy.
	DiffFirst bool `json:"diff_first,omitempty" yaml:"diff_first,omitempty"`
}

// ProbeConfig defines how to check whether desired state already exists.
type ProbeConfig struct {
	// Type selects the probe kind.
	Type string `json:"type" yaml:"type" validate:"required,oneof=path command http tcp wasm"`

	// Path is the filesystem path for path probes.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Run is the check command for command probes.
	Run []string `json:"run,omitempty" yaml:"run,omitempty"`

	// URL is the endpoint for http probes.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Addr is the host:port for tcp probes.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`

	// Module is the WASI module path for wasm probes.
	Module string `json:"module,omitempty" yaml:"module,omitempty"`

	// Args are passed to the WASI module.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Negate inverts the probe's answer.
	Negate bool `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// GuardConfig defines one task precondition.
type GuardConfig struct {
	// Name labels the guard.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Type selects the guard kind.
	Type string `json:"type" yaml:"type" validate:"required,oneof=env command policy"`

	// Variable is the required environment variable for env guards.
	Variable string `json:"variable,omitempty" yaml:"variable,omitempty"`

	// Run is the check command for command guards.
	Run []string `json:"run,omitempty" yaml:"run,omitempty"`

	// Rule is the policy rule name for policy guards.
	Rule string `json:"rule,omitempty" yaml:"rule,omitempty"`

	// Remedy is the remediation instruction shown verbatim on failure.
	Remedy string `json:"remedy,omitempty" yaml:"remedy,omitempty"`
}

// StackConfig configures the local service stack.
type StackConfig struct {
	// File is the compose file path, relative to the manifest.
	File string `json:"file" yaml:"file" validate:"required"`

	// StartTimeout bounds each service's health wait, in Go duration
	// syntax ("90s", "2m").
	StartTimeout string `json:"start_timeout,omitempty" yaml:"start_timeout,omitempty" validate:"omitempty"`
}

// CredentialConfig configures the cloud credential profile.
type CredentialConfig struct {
	// Profile is the named credential profile.
	Profile string `json:"profile" yaml:"profile" validate:"required"`

	// SSOStartURL is the identity portal URL for device login.
	SSOStartURL string `json:"sso_start_url,omitempty" yaml:"sso_start_url,omitempty"`

	// SSORegion is the identity service region.
	SSORegion string `json:"sso_region,omitempty" yaml:"sso_region,omitempty"`

	// AccountID is the target account.
	AccountID string `json:"account_id,omitempty" yaml:"account_id,omitempty"`

	// RoleName is the role assumed after login.
	RoleName string `json:"role_name,omitempty" yaml:"role_name,omitempty"`

	// Region is the default region written into the profile.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// AlwaysReconfigure forces profile configuration and login even
	// when the current credentials still verify.
	AlwaysReconfigure bool `json:"always_reconfigure,omitempty" yaml:"always_reconfigure,omitempty"`
}

// PolicyConfig configures rego guard policies.
type PolicyConfig struct {
	// Dir holds .rego policy files, relative to the manifest.
	Dir string `json:"dir" yaml:"dir" validate:"required"`

	// Watch reloads policies when files in Dir change.
	Watch bool `json:"watch,omitempty" yaml:"watch,omitempty"`
}
