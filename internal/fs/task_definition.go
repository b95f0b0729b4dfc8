package fs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/meridianci/meridian/internal/fs/hash"
	"github.com/meridianci/meridian/internal/turbopath"
	"github.com/meridianci/meridian/internal/util"
)

// topologicalPrefix is prepended to a dependsOn entry to mark it as a
// dependency on the same-named task in every workspace this package depends
// on, rather than a task in the same workspace.
const topologicalPrefix = "^"

// TaskDefinition is the fully-resolved configuration for a single task: the
// result of following a task's turbo.json inheritance chain (workspace
// turbo.json overriding fields set in the root turbo.json) and filling in
// defaults for anything neither defined.
type TaskDefinition struct {
	Outputs                 hash.TaskOutputs
	Cache                   bool
	TopologicalDependencies []string
	TaskDependencies        []string
	Inputs                  []string
	OutputMode              util.TaskOutputMode
	Env                     []string
	PassThroughEnv          []string
	Persistent              bool
	Interruptible           bool
	DotEnv                  turbopath.AnchoredUnixPathArray
}

// taskDefinitionHashable is the same shape as TaskDefinition. It exists as a
// distinct name because it's the type embedded in BookkeepingTaskDefinition,
// which is unmarshaled directly off of turbo.json; keeping the name separate
// documents that this value hasn't necessarily had its defaults filled in
// the way a plain TaskDefinition is guaranteed to.
type taskDefinitionHashable = TaskDefinition

// MarshalJSON serializes a TaskDefinition back into turbo.json's dependsOn
// shape, recombining TopologicalDependencies and TaskDependencies.
func (td TaskDefinition) MarshalJSON() ([]byte, error) {
	dependsOn := make([]string, 0, len(td.TopologicalDependencies)+len(td.TaskDependencies))
	for _, dep := range td.TopologicalDependencies {
		dependsOn = append(dependsOn, topologicalPrefix+dep)
	}
	dependsOn = append(dependsOn, td.TaskDependencies...)

	outputs := make([]string, 0, len(td.Outputs.Inclusions)+len(td.Outputs.Exclusions))
	outputs = append(outputs, td.Outputs.Inclusions...)
	for _, excl := range td.Outputs.Exclusions {
		outputs = append(outputs, "!"+excl)
	}

	inputs := td.Inputs
	if inputs == nil {
		inputs = []string{}
	}

	raw := struct {
		Outputs        []string                        `json:"outputs"`
		Cache          bool                             `json:"cache"`
		DependsOn      []string                         `json:"dependsOn"`
		Inputs         []string                         `json:"inputs"`
		OutputMode     util.TaskOutputMode              `json:"outputMode"`
		Persistent     bool                             `json:"persistent"`
		Env            []string                         `json:"env"`
		PassThroughEnv []string                         `json:"passThroughEnv"`
		DotEnv         turbopath.AnchoredUnixPathArray  `json:"dotEnv"`
	}{
		Outputs:        outputs,
		Cache:          td.Cache,
		DependsOn:      dependsOn,
		Inputs:         inputs,
		OutputMode:     td.OutputMode,
		Persistent:     td.Persistent,
		Env:            td.Env,
		PassThroughEnv: td.PassThroughEnv,
		DotEnv:         td.DotEnv,
	}
	return json.Marshal(raw)
}

// taskDefinitionExperiments holds turbo.json fields that are still gated
// behind an internal flag. None are wired up yet.
type taskDefinitionExperiments struct{}

// BookkeepingTaskDefinition wraps a TaskDefinition parsed from a single
// turbo.json with the information needed to correctly merge it with
// definitions from other turbo.json files in the inheritance chain:
// definedFields records which fields were actually present in the source
// JSON, so that merging only overrides fields the child turbo.json chose to
// set, instead of stomping the parent's values with zero values.
type BookkeepingTaskDefinition struct {
	definedFields      util.Set
	experimentalFields util.Set
	experimental       taskDefinitionExperiments
	TaskDefinition      taskDefinitionHashable
}

// GetTaskDefinition returns the resolved TaskDefinition, stripped of merge
// bookkeeping.
func (btd BookkeepingTaskDefinition) GetTaskDefinition() TaskDefinition {
	return TaskDefinition(btd.TaskDefinition)
}

// rawTaskDefinition is the on-disk shape of a single turbo.json pipeline
// entry, with every field optional so we can tell "not set" from "set to the
// zero value".
type rawTaskDefinition struct {
	Outputs        []string             `json:"outputs"`
	Cache          *bool                `json:"cache"`
	DependsOn      []string             `json:"dependsOn"`
	Inputs         []string             `json:"inputs"`
	OutputMode     util.TaskOutputMode  `json:"outputMode"`
	Env            []string             `json:"env"`
	PassThroughEnv []string             `json:"passThroughEnv"`
	Persistent     *bool                `json:"persistent"`
	Interruptible  *bool                `json:"interruptible"`
	DotEnv         []string             `json:"dotEnv"`
}

// jsonKeyToField maps a turbo.json pipeline key to the Go field name it
// resolves to, for definedFields bookkeeping.
var jsonKeyToField = map[string]string{
	"outputs":        "Outputs",
	"cache":          "Cache",
	"dependsOn":      "DependsOn",
	"inputs":         "Inputs",
	"outputMode":     "OutputMode",
	"env":            "Env",
	"passThroughEnv": "PassThroughEnv",
	"persistent":     "Persistent",
	"interruptible":  "Interruptible",
	"dotEnv":         "DotEnv",
}

// UnmarshalJSON parses a single turbo.json pipeline entry, recording which
// fields were explicitly defined and filling in turbo's documented defaults
// for everything else.
func (btd *BookkeepingTaskDefinition) UnmarshalJSON(data []byte) error {
	var presence map[string]json.RawMessage
	if err := json.Unmarshal(data, &presence); err != nil {
		return err
	}

	defined := make(util.Set)
	for key := range presence {
		if field, ok := jsonKeyToField[key]; ok {
			defined.Add(field)
		}
	}

	var raw rawTaskDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var outputs hash.TaskOutputs
	for _, pattern := range raw.Outputs {
		if strings.HasPrefix(pattern, "!") {
			outputs.Exclusions = append(outputs.Exclusions, strings.TrimPrefix(pattern, "!"))
		} else {
			outputs.Inclusions = append(outputs.Inclusions, pattern)
		}
	}
	outputs.Sort()

	topoDeps, taskDeps := []string{}, []string{}
	for _, dep := range raw.DependsOn {
		if strings.HasPrefix(dep, topologicalPrefix) {
			topoDeps = append(topoDeps, strings.TrimPrefix(dep, topologicalPrefix))
		} else {
			taskDeps = append(taskDeps, dep)
		}
	}
	sort.Strings(topoDeps)
	sort.Strings(taskDeps)

	if err := validateNoDollarPrefix("env", raw.Env); err != nil {
		return err
	}
	env := append([]string{}, raw.Env...)
	sort.Strings(env)

	var passThroughEnv []string
	if defined.Includes("PassThroughEnv") {
		if err := validateNoDollarPrefix("passThroughEnv", raw.PassThroughEnv); err != nil {
			return err
		}
		passThroughEnv = append([]string{}, raw.PassThroughEnv...)
		sort.Strings(passThroughEnv)
	}

	cache := true
	if raw.Cache != nil {
		cache = *raw.Cache
	}

	outputMode := util.FullTaskOutput
	if raw.OutputMode != "" {
		outputMode = raw.OutputMode
	}

	persistent := false
	if raw.Persistent != nil {
		persistent = *raw.Persistent
	}

	interruptible := false
	if raw.Interruptible != nil {
		interruptible = *raw.Interruptible
	}

	var dotEnv turbopath.AnchoredUnixPathArray
	if defined.Includes("DotEnv") {
		dotEnv = make(turbopath.AnchoredUnixPathArray, len(raw.DotEnv))
		for i, p := range raw.DotEnv {
			dotEnv[i] = turbopath.AnchoredUnixPathFromUpstream(p)
		}
	}

	var inputs []string
	if defined.Includes("Inputs") {
		inputs = append([]string{}, raw.Inputs...)
		sort.Strings(inputs)
	}

	*btd = BookkeepingTaskDefinition{
		definedFields:      defined,
		experimentalFields: make(util.Set),
		experimental:       taskDefinitionExperiments{},
		TaskDefinition: taskDefinitionHashable{
			Outputs:                 outputs,
			Cache:                   cache,
			TopologicalDependencies: topoDeps,
			TaskDependencies:        taskDeps,
			Inputs:                  inputs,
			OutputMode:              outputMode,
			Env:                     env,
			PassThroughEnv:          passThroughEnv,
			Persistent:              persistent,
			Interruptible:           interruptible,
			DotEnv:                  dotEnv,
		},
	}
	return nil
}

func validateNoDollarPrefix(key string, values []string) error {
	for _, v := range values {
		if strings.HasPrefix(v, "$") {
			return fmt.Errorf("turbo.json: You specified %q in the %q key. You should not prefix your environment variables with \"$\"", v, key)
		}
	}
	return nil
}

// Pipeline is the parsed "pipeline" object from a turbo.json: one
// BookkeepingTaskDefinition per task or package-task entry.
type Pipeline map[string]BookkeepingTaskDefinition

// GetTask looks up a task definition first by the fully-qualified taskID
// (package#task), then by the bare task name, matching how turbo.json lets a
// pipeline entry apply either to one workspace or to every workspace.
func (p Pipeline) GetTask(taskID string, taskName string) (*BookkeepingTaskDefinition, error) {
	if task, ok := p[taskID]; ok {
		return &task, nil
	}
	if task, ok := p[taskName]; ok {
		return &task, nil
	}
	return nil, fmt.Errorf("no task definition found for %q", taskID)
}

// MergeTaskDefinitions folds a chain of BookkeepingTaskDefinitions,
// root-most first, into one resolved TaskDefinition: a field from a later
// (more specific) definition only takes effect if that definition's
// turbo.json actually set it, so a workspace-level turbo.json that doesn't
// mention `cache` doesn't silently reset it to the default.
func MergeTaskDefinitions(taskDefinitions []BookkeepingTaskDefinition) (*TaskDefinition, error) {
	if len(taskDefinitions) == 0 {
		return nil, fmt.Errorf("no task definitions to merge")
	}

	merged := TaskDefinition(taskDefinitions[0].TaskDefinition)
	for _, btd := range taskDefinitions[1:] {
		td := TaskDefinition(btd.TaskDefinition)
		if btd.definedFields.Includes("Outputs") {
			merged.Outputs = td.Outputs
		}
		if btd.definedFields.Includes("Cache") {
			merged.Cache = td.Cache
		}
		if btd.definedFields.Includes("DependsOn") {
			merged.TopologicalDependencies = td.TopologicalDependencies
			merged.TaskDependencies = td.TaskDependencies
		}
		if btd.definedFields.Includes("Inputs") {
			merged.Inputs = td.Inputs
		}
		if btd.definedFields.Includes("OutputMode") {
			merged.OutputMode = td.OutputMode
		}
		if btd.definedFields.Includes("Env") {
			merged.Env = td.Env
		}
		if btd.definedFields.Includes("PassThroughEnv") {
			merged.PassThroughEnv = td.PassThroughEnv
		}
		if btd.definedFields.Includes("Persistent") {
			merged.Persistent = td.Persistent
		}
		if btd.definedFields.Includes("Interruptible") {
			merged.Interruptible = td.Interruptible
		}
		if btd.definedFields.Includes("DotEnv") {
			merged.DotEnv = td.DotEnv
		}
	}

	return &merged, nil
}
