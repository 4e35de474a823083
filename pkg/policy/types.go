package policy

// Policy is one Rego module acting as a task guard.
type Policy struct {
	// Name is the unique policy name, derived from the filename for
	// directory-loaded policies.
	Name string `json:"name"`

	// Description is taken from the leading Rego comments.
	Description string `json:"description,omitempty"`

	// Rego is the module source.
	Rego string `json:"rego"`

	// Source is the file the policy came from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Input is the document policies evaluate against.
type Input struct {
	// Task is the task about to run.
	Task string

	// Target is the run's requested task.
	Target string

	// Commands lists the task's action argvs.
	Commands [][]string

	// Vars are the manifest vars.
	Vars map[string]any
}

// asMap renders the input as the plain document Rego sees.
func (in *Input) asMap() map[string]any {
	commands := make([]any, len(in.Commands))
	for i, argv := range in.Commands {
		args := make([]any, len(argv))
		for j, arg := range argv {
			args[j] = arg
		}
		commands[i] = args
	}
	return map[string]any{
		"task":     in.Task,
		"target":   in.Target,
		"commands": commands,
		"vars":     in.Vars,
	}
}

// Violation is one deny result from a policy.
type Violation struct {
	// Policy is the policy that denied.
	Policy string `json:"policy"`

	// Message is the deny message, shown verbatim.
	Message string `json:"message"`
}
