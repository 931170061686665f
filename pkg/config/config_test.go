package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "checker.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestLoadCheckerConfig_Minimal(t *testing.T) {
	path := writeConfig(t, `
version: 1
export:
  destination: https://example.com/public.git
  templates: searchOrCreate
testing:
  changesDetection: lastCommitChanges
`)

	cfg, err := LoadCheckerConfig(path)
	if err != nil {
		t.Fatalf("LoadCheckerConfig: %v", err)
	}

	if cfg.Export.Destination != "https://example.com/public.git" {
		t.Fatalf("unexpected destination: %q", cfg.Export.Destination)
	}

	if cfg.Testing.ChangesDetection != "lastCommitChanges" {
		t.Fatalf("unexpected changesDetection: %q", cfg.Testing.ChangesDetection)
	}
}

func TestLoadCheckerConfig_RejectsInvalidTemplatesPolicy(t *testing.T) {
	path := writeConfig(t, `
version: 1
export:
  templates: bogus
`)

	if _, err := LoadCheckerConfig(path); err == nil {
		t.Fatal("expected an error for an unknown export.templates policy")
	}
}

func TestLoadCheckerConfig_RejectsUnsupportedVersion(t *testing.T) {
	path := writeConfig(t, `
version: 2
`)

	if _, err := LoadCheckerConfig(path); err == nil {
		t.Fatal("expected an error for an unsupported config version")
	}
}

func TestLoadCheckerConfig_StagesDecodeInOrder(t *testing.T) {
	path := writeConfig(t, `
version: 1
testing:
  changesDetection: branchName
  tasksPipeline:
    - name: build
      plugin: runScript
      failPolicy: fast
    - name: test
      plugin: runScript
      failPolicy: afterAll
`)

	cfg, err := LoadCheckerConfig(path)
	if err != nil {
		t.Fatalf("LoadCheckerConfig: %v", err)
	}

	stages := cfg.Testing.TaskStages()
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(stages))
	}

	if stages[0].Name != "build" || stages[1].Name != "test" {
		t.Fatalf("stages decoded out of order: %+v", stages)
	}

	if stages[1].FailPolicy != "afterAll" {
		t.Fatalf("expected explicit failPolicy to survive decode, got %q", stages[1].FailPolicy)
	}
}

func writeManytaskConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "manytask.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestLoadManytaskConfig_Minimal(t *testing.T) {
	path := writeManytaskConfig(t, `
version: 1
settings:
  courseName: Intro to Go
ui:
  taskUrlTemplate: https://example.com/$GROUP_NAME/$TASK_NAME
deadlines:
  timezone: Europe/Moscow
  deadlines: interpolate
  window: 168h
  schedule:
    - name: group1
      start: 2026-01-01T00:00:00Z
      end: 2026-02-01T00:00:00Z
      steps:
        - percentage: 0.5
          deadline: 2026-01-15T00:00:00Z
`)

	cfg, err := LoadManytaskConfig(path)
	if err != nil {
		t.Fatalf("LoadManytaskConfig: %v", err)
	}

	schedule, err := cfg.Deadlines.ToSchedule()
	if err != nil {
		t.Fatalf("ToSchedule: %v", err)
	}

	if schedule.Window.Hours() != 168 {
		t.Fatalf("expected 168h window, got %v", schedule.Window)
	}

	groups, err := cfg.Deadlines.Groups()
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}

	if len(groups) != 1 || groups[0].Name != "group1" {
		t.Fatalf("unexpected groups: %+v", groups)
	}

	if len(groups[0].Steps) != 1 || groups[0].Steps[0].Percentage != 0.5 {
		t.Fatalf("unexpected steps: %+v", groups[0].Steps)
	}
}

func TestLoadManytaskConfig_ScheduleTasksDecodeScoringData(t *testing.T) {
	path := writeManytaskConfig(t, `
version: 1
deadlines:
  timezone: UTC
  deadlines: hard
  schedule:
    - name: group1
      start: 2026-01-01T00:00:00Z
      end: 2026-02-01T00:00:00Z
      tasks:
        - name: hello
          score: 10
          minScore: 2
        - name: bonus-task
          score: 5
          bonus: true
          enabled: false
`)

	cfg, err := LoadManytaskConfig(path)
	if err != nil {
		t.Fatalf("LoadManytaskConfig: %v", err)
	}

	groups, err := cfg.Deadlines.Groups()
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}

	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}

	tasks := groups[0].Tasks
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %+v", tasks)
	}

	if tasks[0].Name != "hello" || tasks[0].Score != 10 || tasks[0].MinScore != 2 || !tasks[0].Enabled {
		t.Fatalf("unexpected first task (enabled should default true): %+v", tasks[0])
	}

	if tasks[1].Name != "bonus-task" || !tasks[1].Bonus || tasks[1].Enabled {
		t.Fatalf("unexpected second task (explicit enabled: false should stick): %+v", tasks[1])
	}
}

func TestLoadManytaskConfig_RejectsNonHTTPTaskURL(t *testing.T) {
	path := writeManytaskConfig(t, `
version: 1
ui:
  taskUrlTemplate: ftp://example.com/$TASK_NAME
deadlines:
  timezone: UTC
  deadlines: hard
`)

	if _, err := LoadManytaskConfig(path); err == nil {
		t.Fatal("expected an error for a non-http(s) taskUrlTemplate")
	}
}

func TestLoadManytaskConfig_RejectsBadTimezone(t *testing.T) {
	path := writeManytaskConfig(t, `
version: 1
deadlines:
  timezone: Not/AZone
  deadlines: hard
`)

	if _, err := LoadManytaskConfig(path); err == nil {
		t.Fatal("expected an error for an invalid IANA timezone")
	}
}
