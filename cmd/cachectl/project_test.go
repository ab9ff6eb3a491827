package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/cachecore/internal/model"
)

func writeProjectFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleProject = `{
	"module": {"groupId": "com.example", "artifactId": "widget", "version": "1.0.0"},
	"moduleBase": "/work/widget",
	"excludeProperties": ["project.build.timestamp"],
	"contributeProjectVersion": true,
	"primaryArtifact": {"type": "jar", "fileName": "widget-1.0.0.jar"},
	"outputDirs": [{"path": "target/classes", "type": "classes"}],
	"goals": ["compile", "test"],
	"steps": [
		{
			"executionId": "default-compile",
			"goal": "compile",
			"phase": "compile",
			"plugin": {"groupId": "org.example.plugins", "artifactId": "compiler-plugin", "version": "3.1"},
			"forced": false,
			"parameters": [
				{"name": "source", "tracked": true},
				{"name": "debug", "tracked": false}
			],
			"values": {"source": "17", "debug": true},
			"command": ["true"]
		}
	]
}`

func TestLoadProject(t *testing.T) {
	path := writeProjectFile(t, sampleProject)

	p, err := loadProject(path)
	if err != nil {
		t.Fatal(err)
	}

	if got, want := p.Module.toModel().String(), "com.example:widget:1.0.0"; got != want {
		t.Fatalf("module: got %q, want %q", got, want)
	}
	if len(p.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(p.Steps))
	}
}

func TestProjectStepsAndKeyLookup(t *testing.T) {
	path := writeProjectFile(t, sampleProject)
	p, err := loadProject(path)
	if err != nil {
		t.Fatal(err)
	}

	steps := p.steps()
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	step := steps[0]
	if step.Goal != "compile" || step.Phase != "compile" {
		t.Fatalf("unexpected step: %+v", step)
	}

	tracked := p.trackedOf(step)
	if len(tracked) != 1 || tracked[0].Name != "source" {
		t.Fatalf("unexpected tracked parameters: %+v", tracked)
	}

	specs := p.paramSpecsOf(step)
	if len(specs) != 2 {
		t.Fatalf("expected 2 parameter specs, got %d", len(specs))
	}

	if v, ok := step.Introspect.ValueOf("source"); !ok || v != "17" {
		t.Fatalf("ValueOf(source): got (%v, %v)", v, ok)
	}
}

func TestProjectModuleInputs(t *testing.T) {
	path := writeProjectFile(t, sampleProject)
	p, err := loadProject(path)
	if err != nil {
		t.Fatal(err)
	}

	inputs, err := p.moduleInputs()
	if err != nil {
		t.Fatal(err)
	}
	if !inputs.ContributeProjectVersion {
		t.Fatal("expected ContributeProjectVersion to be carried over")
	}
	if len(inputs.ExcludeProperties) != 1 || inputs.ExcludeProperties[0] != "project.build.timestamp" {
		t.Fatalf("unexpected ExcludeProperties: %+v", inputs.ExcludeProperties)
	}
}

func TestAlwaysRunMatcher(t *testing.T) {
	m := alwaysRunMatcher{patterns: []string{"exec-plugin:run"}}

	forcedStep := model.Step{Forced: true}
	if !m.IsForced(forcedStep) {
		t.Fatal("expected an explicitly Forced step to be forced regardless of patterns")
	}

	matched := model.Step{Goal: "run", Plugin: model.PluginCoordinate{ArtifactID: "exec-plugin"}}
	if !m.IsForced(matched) {
		t.Fatal("expected exec-plugin:run to match the configured pattern")
	}

	unmatched := model.Step{Goal: "compile", Plugin: model.PluginCoordinate{ArtifactID: "compiler-plugin"}}
	if m.IsForced(unmatched) {
		t.Fatal("did not expect compiler-plugin:compile to match")
	}
}
