// Package roster holds the admin-managed conversation configuration: the
// supervisor profile and the roster of task agents with their tasks.
// Files are YAML; JSON files are accepted too since JSON is valid YAML.
package roster

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dayuer/askrelay/internal/tools"
)

// Task is one callable capability of a task agent.
type Task struct {
	Name         string         `yaml:"name" json:"name"`
	Description  string         `yaml:"description" json:"description"`
	Endpoint     string         `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	ParamsSchema map[string]any `yaml:"params_schema" json:"params_schema"`
}

// AgentSpec defines a task agent.
type AgentSpec struct {
	Name          string `yaml:"name" json:"name"`
	SystemMessage string `yaml:"system_message" json:"system_message"`
	Tasks         []Task `yaml:"tasks" json:"tasks"`
}

// Roster is the ordered list of task agents.
type Roster struct {
	Assistants []AgentSpec `yaml:"assistants" json:"assistants"`
}

// Profile configures the supervisor agent.
type Profile struct {
	Name                    string `yaml:"name" json:"name"`
	Model                   string `yaml:"model" json:"model"`
	Persona                 string `yaml:"persona" json:"persona"`
	SupervisorSystemMessage string `yaml:"supervisor_system_message" json:"supervisor_system_message"`
}

const defaultSupervisorMessage = "You are a helpful assistant."

// DefaultProfile is used when no profile file exists.
func DefaultProfile() Profile {
	return Profile{
		Name:                    "Supervisor",
		SupervisorSystemMessage: defaultSupervisorMessage,
	}
}

var identRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Validate checks agent and task names. Task names become tool names, so
// they must be unique across the roster and usable as function names.
func (r Roster) Validate() error {
	agents := make(map[string]bool, len(r.Assistants))
	taskNames := make(map[string]string)
	for i, a := range r.Assistants {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("assistant %d: name is required", i)
		}
		if agents[name] {
			return fmt.Errorf("assistant %q: duplicate name", name)
		}
		agents[name] = true
		for _, t := range a.Tasks {
			if !identRe.MatchString(t.Name) {
				return fmt.Errorf("assistant %q: invalid task name %q", name, t.Name)
			}
			if owner, ok := taskNames[t.Name]; ok {
				return fmt.Errorf("task %q defined by both %q and %q", t.Name, owner, name)
			}
			taskNames[t.Name] = name
		}
	}
	return nil
}

// Clone returns a deep copy, so a running session never observes later
// admin edits.
func (r Roster) Clone() Roster {
	out := Roster{Assistants: make([]AgentSpec, len(r.Assistants))}
	for i, a := range r.Assistants {
		c := a
		c.Tasks = make([]Task, len(a.Tasks))
		for j, t := range a.Tasks {
			t.ParamsSchema = cloneMap(t.ParamsSchema)
			c.Tasks[j] = t
		}
		out.Assistants[i] = c
	}
	return out
}

// Names returns the assistant names in order.
func (r Roster) Names() []string {
	names := make([]string, len(r.Assistants))
	for i, a := range r.Assistants {
		names[i] = a.Name
	}
	return names
}

// Tools builds the agent's tools, one per task, backed by d.
func (a AgentSpec) Tools(d tools.Dispatcher) []tools.Tool {
	out := make([]tools.Tool, 0, len(a.Tasks))
	for _, t := range a.Tasks {
		out = append(out, &tools.EndpointTool{
			TaskName:   t.Name,
			TaskDesc:   t.Description,
			Endpoint:   t.Endpoint,
			Schema:     t.ParamsSchema,
			Dispatcher: d,
		})
	}
	return out
}

// LoadProfile reads a profile file. A missing file yields DefaultProfile.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	found, err := readFile(path, &p)
	if err != nil {
		return DefaultProfile(), err
	}
	if found && p.SupervisorSystemMessage == "" {
		p.SupervisorSystemMessage = defaultSupervisorMessage
	}
	return p, nil
}

// SaveProfile writes the profile.
func SaveProfile(path string, p Profile) error {
	return writeFile(path, p)
}

// LoadRoster reads a roster file. A missing file yields an empty roster.
func LoadRoster(path string) (Roster, error) {
	var r Roster
	if _, err := readFile(path, &r); err != nil {
		return Roster{}, err
	}
	for i := range r.Assistants {
		if r.Assistants[i].Tasks == nil {
			r.Assistants[i].Tasks = []Task{}
		}
	}
	if err := r.Validate(); err != nil {
		return Roster{}, fmt.Errorf("roster %s: %w", path, err)
	}
	return r, nil
}

// SaveRoster validates and writes the roster.
func SaveRoster(path string, r Roster) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return writeFile(path, r)
}

func readFile(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return false, nil
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// writeFile encodes by extension (.json → indented JSON, otherwise YAML)
// and replaces the file atomically.
func writeFile(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = yaml.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = cloneValue(x[i])
		}
		return out
	default:
		return v
	}
}
