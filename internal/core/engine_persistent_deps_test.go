package core

import (
	"strings"
	"testing"

	"github.com/meridianci/meridian/internal/fs"
	"github.com/meridianci/meridian/internal/graph"
	"github.com/meridianci/meridian/internal/workspace"
	"gotest.tools/v3/assert"

	"github.com/pyr-sh/dag"
)

// chainWorkspaceGraph builds the a -> b -> c workspace graph shared by these
// tests: a depends on b, b depends on c.
func chainWorkspaceGraph() dag.AcyclicGraph {
	var workspaceGraph dag.AcyclicGraph
	workspaceGraph.Add("a")
	workspaceGraph.Add("b")
	workspaceGraph.Add("c")
	workspaceGraph.Connect(dag.BasicEdge("a", "b"))
	workspaceGraph.Connect(dag.BasicEdge("b", "c"))
	return workspaceGraph
}

func unmarshalTaskDefinition(t *testing.T, raw string) fs.BookkeepingTaskDefinition {
	t.Helper()
	def := &fs.BookkeepingTaskDefinition{}
	err := def.UnmarshalJSON([]byte(raw))
	assert.NilError(t, err, "BookkeepingTaskDefinition unmarshal")
	return *def
}

func TestValidatePersistentDependencies_SameWorkspace(t *testing.T) {
	workspaceGraph := chainWorkspaceGraph()

	pipeline := map[string]fs.BookkeepingTaskDefinition{
		"dev":   unmarshalTaskDefinition(t, `{"persistent": true}`),
		"build": unmarshalTaskDefinition(t, `{"dependsOn": ["dev"]}`),
	}

	completeGraph := &graph.CompleteGraph{
		WorkspaceGraph:  workspaceGraph,
		Pipeline:        pipeline,
		TaskDefinitions: map[string]*fs.TaskDefinition{},
		WorkspaceInfos: workspace.Catalog{
			PackageJSONs: map[string]*fs.PackageJSON{
				"//": {},
				"a":  {Scripts: map[string]string{"dev": "dev", "build": "build"}},
				"b":  {Scripts: map[string]string{"dev": "dev", "build": "build"}},
				"c":  {Scripts: map[string]string{"dev": "dev", "build": "build"}},
			},
			TurboConfigs: map[string]*fs.TurboJSON{
				"//": {Pipeline: pipeline},
			},
		},
	}

	p := NewEngine(completeGraph, false)
	p.AddTask("build")

	err := p.Prepare(&EngineBuildingOptions{
		Packages:  []string{"a", "b", "c"},
		TaskNames: []string{"build"},
		TasksOnly: false,
	})
	assert.NilError(t, err, "Prepare")

	err = p.ValidatePersistentDependencies(completeGraph, 10)
	if err == nil {
		t.Fatal("expected a validation error for a task depending on a persistent task in its own workspace")
	}
	assert.Assert(t, strings.Contains(err.Error(), "is a persistent task"))
}

func TestValidatePersistentDependencies_Topological(t *testing.T) {
	workspaceGraph := chainWorkspaceGraph()

	pipeline := map[string]fs.BookkeepingTaskDefinition{
		"dev": unmarshalTaskDefinition(t, `{"dependsOn": ["^dev"], "persistent": true}`),
	}

	completeGraph := &graph.CompleteGraph{
		WorkspaceGraph:  workspaceGraph,
		Pipeline:        pipeline,
		TaskDefinitions: map[string]*fs.TaskDefinition{},
		WorkspaceInfos: workspace.Catalog{
			PackageJSONs: map[string]*fs.PackageJSON{
				"//": {},
				"a":  {Scripts: map[string]string{"dev": "dev"}},
				"b":  {Scripts: map[string]string{"dev": "dev"}},
				"c":  {Scripts: map[string]string{"dev": "dev"}},
			},
			TurboConfigs: map[string]*fs.TurboJSON{
				"//": {Pipeline: pipeline},
			},
		},
	}

	p := NewEngine(completeGraph, false)
	p.AddTask("dev")

	err := p.Prepare(&EngineBuildingOptions{
		Packages:  []string{"a", "b", "c"},
		TaskNames: []string{"dev"},
		TasksOnly: false,
	})
	assert.NilError(t, err, "Prepare")

	err = p.ValidatePersistentDependencies(completeGraph, 10)
	if err == nil {
		t.Fatal("expected a validation error: every package's \"dev\" is persistent and depends topologically on the next package's \"dev\"")
	}
	assert.Assert(t, strings.Contains(err.Error(), "is a persistent task"))
}

func TestValidatePersistentDependencies_UnimplementedDependency(t *testing.T) {
	workspaceGraph := chainWorkspaceGraph()

	pipeline := map[string]fs.BookkeepingTaskDefinition{
		"dev":   unmarshalTaskDefinition(t, `{"persistent": true}`),
		"build": unmarshalTaskDefinition(t, `{"dependsOn": ["dev"]}`),
	}

	completeGraph := &graph.CompleteGraph{
		WorkspaceGraph:  workspaceGraph,
		Pipeline:        pipeline,
		TaskDefinitions: map[string]*fs.TaskDefinition{},
		WorkspaceInfos: workspace.Catalog{
			PackageJSONs: map[string]*fs.PackageJSON{
				"//": {},
				// None of these packages actually implement "dev" in
				// package.json, so depending on it is a no-op, not a
				// persistent-task violation.
				"a": {Scripts: map[string]string{"build": "build"}},
				"b": {Scripts: map[string]string{"build": "build"}},
				"c": {Scripts: map[string]string{"build": "build"}},
			},
			TurboConfigs: map[string]*fs.TurboJSON{
				"//": {Pipeline: pipeline},
			},
		},
	}

	p := NewEngine(completeGraph, false)
	p.AddTask("build")

	err := p.Prepare(&EngineBuildingOptions{
		Packages:  []string{"a", "b", "c"},
		TaskNames: []string{"build"},
		TasksOnly: false,
	})
	assert.NilError(t, err, "Prepare")

	err = p.ValidatePersistentDependencies(completeGraph, 10)
	assert.NilError(t, err, "depending on an unimplemented persistent task should not be a validation error")
}

func TestValidatePersistentDependencies_ConcurrencyLimit(t *testing.T) {
	workspaceGraph := chainWorkspaceGraph()

	pipeline := map[string]fs.BookkeepingTaskDefinition{
		"dev": unmarshalTaskDefinition(t, `{"persistent": true}`),
	}

	completeGraph := &graph.CompleteGraph{
		WorkspaceGraph:  workspaceGraph,
		Pipeline:        pipeline,
		TaskDefinitions: map[string]*fs.TaskDefinition{},
		WorkspaceInfos: workspace.Catalog{
			PackageJSONs: map[string]*fs.PackageJSON{
				"//": {},
				"a":  {Scripts: map[string]string{"dev": "dev"}},
				"b":  {Scripts: map[string]string{"dev": "dev"}},
				"c":  {Scripts: map[string]string{"dev": "dev"}},
			},
			TurboConfigs: map[string]*fs.TurboJSON{
				"//": {Pipeline: pipeline},
			},
		},
	}

	p := NewEngine(completeGraph, false)
	p.AddTask("dev")

	err := p.Prepare(&EngineBuildingOptions{
		Packages:  []string{"a", "b", "c"},
		TaskNames: []string{"dev"},
		TasksOnly: false,
	})
	assert.NilError(t, err, "Prepare")

	// Three independent persistent "dev" tasks (no dependencies between
	// them) but a concurrency limit of 2: there's no dependency violation
	// to report, but the run could never schedule all three at once.
	err = p.ValidatePersistentDependencies(completeGraph, 2)
	if err == nil {
		t.Fatal("expected a validation error when persistent task count meets or exceeds concurrency")
	}
	assert.Assert(t, strings.Contains(err.Error(), "persistent tasks"))
}
