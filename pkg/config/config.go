// Package config loads and validates checker.yml and manytask.yml, the two
// top-level course configuration documents, via viper/mapstructure —
// grounded on the teacher's own pkg/config loader.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/manytask/checker/pkg/course"
	"github.com/manytask/checker/pkg/deadlines"
	"github.com/manytask/checker/pkg/exporter"
	"github.com/manytask/checker/pkg/pipeline"
)

// Sentinel validation errors. Each participates in the ConfigError taxonomy kind.
var (
	ErrUnsupportedVersion  = errors.New("unsupported config version")
	ErrInvalidTemplates    = errors.New("invalid export.templates policy")
	ErrInvalidChangesMode  = errors.New("invalid testing.changesDetection mode")
	ErrInvalidDeadlinesKey = errors.New("invalid deadlines.deadlines policy")
	ErrInvalidTimezone     = errors.New("invalid deadlines.timezone")
	ErrInvalidTaskURL      = errors.New("invalid ui.taskUrlTemplate")
	ErrInvalidSchedule     = errors.New("invalid deadlines.schedule")
)

const currentConfigVersion = 1

// StructureSection is checker.yml's `structure` block.
type StructureSection struct {
	IgnorePatterns  []string `mapstructure:"ignorePatterns"`
	PrivatePatterns []string `mapstructure:"privatePatterns"`
	PublicPatterns  []string `mapstructure:"publicPatterns"`
}

// ToStructureConfig converts the decoded section to its runtime shape.
func (s StructureSection) ToStructureConfig() exporter.StructureConfig {
	return exporter.StructureConfig{
		IgnorePatterns:  s.IgnorePatterns,
		PrivatePatterns: s.PrivatePatterns,
		PublicPatterns:  s.PublicPatterns,
	}
}

// ExportSection is checker.yml's `export` block.
type ExportSection struct {
	Destination     string `mapstructure:"destination"`
	DefaultBranch    string `mapstructure:"defaultBranch"`
	CommitMessage   string `mapstructure:"commitMessage"`
	Templates       string `mapstructure:"templates"`
	ServiceUsername string `mapstructure:"serviceUsername"`
	ServiceToken    string `mapstructure:"serviceToken"`
}

// ToConfig converts the decoded section to its runtime shape.
func (e ExportSection) ToConfig() exporter.Config {
	return exporter.Config{
		Destination:     e.Destination,
		DefaultBranch:   e.DefaultBranch,
		Templates:       exporter.TemplatePolicy(e.Templates),
		ServiceUsername: e.ServiceUsername,
		ServiceToken:    e.ServiceToken,
	}
}

func (e ExportSection) validate() error {
	switch exporter.TemplatePolicy(e.Templates) {
	case exporter.TemplateSearch, exporter.TemplateCreate, exporter.TemplateSearchOrCreate:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTemplates, e.Templates)
	}
}

// StageConfig is one stage of a checker.yml pipeline list.
type StageConfig struct {
	Name           string         `mapstructure:"name"`
	Plugin         string         `mapstructure:"plugin"`
	Args           map[string]any `mapstructure:"args"`
	RunIf          string         `mapstructure:"runIf"`
	FailPolicy     string         `mapstructure:"failPolicy"`
	RegisterOutput string         `mapstructure:"registerOutput"`
}

// ToStage converts the decoded section to its runtime shape. An empty
// FailPolicy defaults to "fast", matching the original's per-stage default.
func (s StageConfig) ToStage() pipeline.Stage {
	failPolicy := pipeline.FailPolicy(s.FailPolicy)
	if failPolicy == "" {
		failPolicy = pipeline.FailFast
	}

	return pipeline.Stage{
		Name:           s.Name,
		Plugin:         s.Plugin,
		Args:           s.Args,
		RunIf:          s.RunIf,
		FailPolicy:     failPolicy,
		RegisterOutput: s.RegisterOutput,
	}
}

func stagesOf(configs []StageConfig) []pipeline.Stage {
	out := make([]pipeline.Stage, len(configs))
	for i, c := range configs {
		out[i] = c.ToStage()
	}

	return out
}

// TestingSection is checker.yml's `testing` block.
type TestingSection struct {
	ChangesDetection string        `mapstructure:"changesDetection"`
	SearchPlugins    []string      `mapstructure:"searchPlugins"`
	GlobalPipeline   []StageConfig `mapstructure:"globalPipeline"`
	TasksPipeline    []StageConfig `mapstructure:"tasksPipeline"`
	ReportPipeline   []StageConfig `mapstructure:"reportPipeline"`
}

func (t TestingSection) validate() error {
	switch course.ChangeDetectionMode(t.ChangesDetection) {
	case course.ModeBranchName, course.ModeCommitMessage, course.ModeLastCommitChanges, course.ModeFilesChanged:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidChangesMode, t.ChangesDetection)
	}
}

// GlobalStages returns the course-wide pipeline's stages.
func (t TestingSection) GlobalStages() []pipeline.Stage { return stagesOf(t.GlobalPipeline) }

// TaskStages returns each task's grading pipeline's stages.
func (t TestingSection) TaskStages() []pipeline.Stage { return stagesOf(t.TasksPipeline) }

// ReportStages returns each task's reporting pipeline's stages.
func (t TestingSection) ReportStages() []pipeline.Stage { return stagesOf(t.ReportPipeline) }

// CheckerConfig is the decoded shape of checker.yml.
type CheckerConfig struct {
	Version           int            `mapstructure:"version"`
	DefaultParameters map[string]any `mapstructure:"defaultParameters"`
	Structure         StructureSection `mapstructure:"structure"`
	Export            ExportSection    `mapstructure:"export"`
	Testing           TestingSection   `mapstructure:"testing"`
}

func (c *CheckerConfig) validate() error {
	if c.Version != currentConfigVersion {
		return fmt.Errorf("%w: checker.yml version %d", ErrUnsupportedVersion, c.Version)
	}

	if err := c.Export.validate(); err != nil {
		return err
	}

	return c.Testing.validate()
}

// LoadCheckerConfig reads checker.yml from path (or the working directory's
// default search path when path is empty) and environment overrides under
// the CHECKER_ prefix.
func LoadCheckerConfig(path string) (*CheckerConfig, error) {
	v := viper.New()
	setCheckerDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("checker")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CHECKER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading checker.yml: %w", err)
		}
	}

	var cfg CheckerConfig

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding checker.yml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid checker.yml: %w", err)
	}

	return &cfg, nil
}

func setCheckerDefaults(v *viper.Viper) {
	v.SetDefault("version", currentConfigVersion)
	v.SetDefault("export.templates", string(exporter.TemplateSearchOrCreate))
	v.SetDefault("export.defaultBranch", "main")
	v.SetDefault("testing.changesDetection", string(course.ModeLastCommitChanges))
}

// SettingsSection is manytask.yml's `settings` block.
type SettingsSection struct {
	CourseName    string `mapstructure:"courseName"`
	GitlabBaseURL string `mapstructure:"gitlabBaseUrl"`
	PublicRepo    string `mapstructure:"publicRepo"`
	StudentsGroup string `mapstructure:"studentsGroup"`
}

// UISection is manytask.yml's `ui` block.
type UISection struct {
	TaskURLTemplate string            `mapstructure:"taskUrlTemplate"`
	Links           map[string]string `mapstructure:"links"`
}

func (u UISection) validate() error {
	if u.TaskURLTemplate == "" {
		return nil
	}

	if !strings.HasPrefix(u.TaskURLTemplate, "http://") && !strings.HasPrefix(u.TaskURLTemplate, "https://") {
		return fmt.Errorf("%w: %q must be http(s)", ErrInvalidTaskURL, u.TaskURLTemplate)
	}

	return nil
}

// ScheduleStepConfig is one entry of a scheduled group's `steps` list.
type ScheduleStepConfig struct {
	Percentage float64 `mapstructure:"percentage"`
	Deadline   string  `mapstructure:"deadline"`
}

// ScheduleTaskConfig is one entry of a scheduled group's `tasks` list —
// the scoring data course.Model.Merge attaches onto the matching on-disk
// task by name.
type ScheduleTaskConfig struct {
	Name        string   `mapstructure:"name"`
	Score       int      `mapstructure:"score"`
	MinScore    int      `mapstructure:"minScore"`
	Bonus       bool     `mapstructure:"bonus"`
	Enabled     *bool    `mapstructure:"enabled"`
	Tags        []string `mapstructure:"tags"`
	ScoringFunc string   `mapstructure:"scoringFunc"`
}

// ScheduleGroupConfig is one entry of deadlines.schedule: a gradable group's
// window, step deadlines, and per-task scoring data, decoded the same shape
// as course.Group/course.Task expect for course.Model.Merge.
type ScheduleGroupConfig struct {
	Name    string               `mapstructure:"name"`
	Enabled *bool                `mapstructure:"enabled"`
	Start   string               `mapstructure:"start"`
	End     string               `mapstructure:"end"`
	Steps   []ScheduleStepConfig `mapstructure:"steps"`
	Tasks   []ScheduleTaskConfig `mapstructure:"tasks"`
}

// ToGroup parses this entry's timestamps in loc and returns the
// corresponding course.Group, with its Tasks populated from the schedule's
// own per-task scoring data — course.Model.Merge matches these onto the
// on-disk tasks by name and copies over Score/MinScore/Bonus/Enabled/
// ScoringFunc, discarding the placeholder RelativePath-less Task values
// built here.
func (g ScheduleGroupConfig) ToGroup(loc *time.Location) (course.Group, error) {
	start, err := time.ParseInLocation(time.RFC3339, g.Start, loc)
	if err != nil {
		return course.Group{}, fmt.Errorf("%w: group %q start: %w", ErrInvalidSchedule, g.Name, err)
	}

	end, err := time.ParseInLocation(time.RFC3339, g.End, loc)
	if err != nil {
		return course.Group{}, fmt.Errorf("%w: group %q end: %w", ErrInvalidSchedule, g.Name, err)
	}

	steps := make([]course.Step, len(g.Steps))

	for i, s := range g.Steps {
		deadline, err := time.ParseInLocation(time.RFC3339, s.Deadline, loc)
		if err != nil {
			return course.Group{}, fmt.Errorf("%w: group %q step %d deadline: %w", ErrInvalidSchedule, g.Name, i, err)
		}

		steps[i] = course.Step{Percentage: s.Percentage, Deadline: deadline}
	}

	enabled := true
	if g.Enabled != nil {
		enabled = *g.Enabled
	}

	tasks := make([]course.Task, len(g.Tasks))

	for i, t := range g.Tasks {
		taskEnabled := true
		if t.Enabled != nil {
			taskEnabled = *t.Enabled
		}

		tasks[i] = course.Task{
			Name:        t.Name,
			Score:       t.Score,
			MinScore:    t.MinScore,
			Bonus:       t.Bonus,
			Enabled:     taskEnabled,
			Tags:        t.Tags,
			ScoringFunc: t.ScoringFunc,
		}
	}

	return course.Group{
		Name:    g.Name,
		Enabled: enabled,
		Start:   start,
		End:     end,
		Steps:   steps,
		Tasks:   tasks,
	}, nil
}

// DeadlinesSection is manytask.yml's `deadlines` block.
type DeadlinesSection struct {
	Timezone          string                `mapstructure:"timezone"`
	Deadlines         string                `mapstructure:"deadlines"`
	Window            string                `mapstructure:"window"`
	MaxSubmissions    int                   `mapstructure:"maxSubmissions"`
	SubmissionPenalty float64               `mapstructure:"submissionPenalty"`
	Schedule          []ScheduleGroupConfig `mapstructure:"schedule"`
}

func (d DeadlinesSection) validate() error {
	if _, err := time.LoadLocation(d.Timezone); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidTimezone, d.Timezone, err)
	}

	switch deadlines.Policy(d.Deadlines) {
	case deadlines.Hard, deadlines.Interpolate:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDeadlinesKey, d.Deadlines)
	}

	if d.Window != "" {
		if _, err := time.ParseDuration(d.Window); err != nil {
			return fmt.Errorf("%w: window %q: %w", ErrInvalidSchedule, d.Window, err)
		}
	}

	return nil
}

// ToSchedule builds the runtime deadlines.Schedule this section describes.
func (d DeadlinesSection) ToSchedule() (deadlines.Schedule, error) {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return deadlines.Schedule{}, fmt.Errorf("%w: %q: %w", ErrInvalidTimezone, d.Timezone, err)
	}

	var window time.Duration

	if d.Window != "" {
		window, err = time.ParseDuration(d.Window)
		if err != nil {
			return deadlines.Schedule{}, fmt.Errorf("%w: window %q: %w", ErrInvalidSchedule, d.Window, err)
		}
	}

	return deadlines.Schedule{
		Timezone:          loc,
		Policy:            deadlines.Policy(d.Deadlines),
		Window:            window,
		MaxSubmissions:    d.MaxSubmissions,
		SubmissionPenalty: d.SubmissionPenalty,
	}, nil
}

// Groups parses every scheduled group entry against the section's timezone.
func (d DeadlinesSection) Groups() ([]course.Group, error) {
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidTimezone, d.Timezone, err)
	}

	out := make([]course.Group, len(d.Schedule))

	for i, g := range d.Schedule {
		group, err := g.ToGroup(loc)
		if err != nil {
			return nil, err
		}

		out[i] = group
	}

	return out, nil
}

// ManytaskConfig is the decoded shape of manytask.yml.
type ManytaskConfig struct {
	Version   int              `mapstructure:"version"`
	Settings  SettingsSection  `mapstructure:"settings"`
	UI        UISection        `mapstructure:"ui"`
	Deadlines DeadlinesSection `mapstructure:"deadlines"`
}

func (c *ManytaskConfig) validate() error {
	if c.Version != currentConfigVersion {
		return fmt.Errorf("%w: manytask.yml version %d", ErrUnsupportedVersion, c.Version)
	}

	if err := c.UI.validate(); err != nil {
		return err
	}

	return c.Deadlines.validate()
}

// LoadManytaskConfig reads manytask.yml from path (or the working
// directory's default search path when path is empty) and environment
// overrides under the MANYTASK_ prefix.
func LoadManytaskConfig(path string) (*ManytaskConfig, error) {
	v := viper.New()
	setManytaskDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("manytask")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MANYTASK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading manytask.yml: %w", err)
		}
	}

	var cfg ManytaskConfig

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding manytask.yml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid manytask.yml: %w", err)
	}

	return &cfg, nil
}

func setManytaskDefaults(v *viper.Viper) {
	v.SetDefault("version", currentConfigVersion)
	v.SetDefault("deadlines.timezone", "UTC")
	v.SetDefault("deadlines.deadlines", string(deadlines.Hard))
	v.SetDefault("deadlines.submissionPenalty", 0.0)
}
