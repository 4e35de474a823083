package policy

// builtinPolicies returns the policies every engine carries. They keep
// obviously destructive commands out of regular task runs unless the
// manifest opts in via vars.allow_destroy.
func builtinPolicies() []Policy {
	return []Policy{
		{
			Name:        "no-destroy-without-optin",
			Description: "Blocks infrastructure destroy commands unless vars.allow_destroy is set",
			Rego: `package groundcrew.policies.destroy

import rego.v1

destroy_verbs := {"destroy", "delete-stack"}

deny contains msg if {
	not input.vars.allow_destroy
	some command in input.commands
	some arg in command
	destroy_verbs[arg]
	msg := sprintf("task %s runs a destroy command; set vars.allow_destroy to permit it", [input.task])
}
`,
		},
	}
}
