package tool

import (
	"bytes"
	"encoding/json"
)

// Action identifies one tool invocation: the tool name plus its serialized
// parameters. Actions are value types; the zero Action marks a root node
// that took no action.
type Action struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// NewAction builds an action from a name and raw JSON arguments. Bytes that
// are not valid JSON are retained as a JSON string: the malformed proposal
// stays inspectable while the action remains serializable end to end.
func NewAction(name string, arguments []byte) Action {
	if len(arguments) > 0 && !json.Valid(arguments) {
		arguments, _ = json.Marshal(string(arguments))
	}
	return Action{Name: name, Arguments: json.RawMessage(arguments)}
}

// IsZero reports whether no action was taken (root nodes).
func (a Action) IsZero() bool { return a.Name == "" }

// Key returns a stable serialization of the action used for duplicate
// detection between siblings and along trajectories. Argument JSON is
// compacted so formatting differences do not defeat comparison.
func (a Action) Key() string {
	if len(a.Arguments) == 0 {
		return a.Name
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, a.Arguments); err != nil {
		return a.Name + ":" + string(a.Arguments)
	}
	return a.Name + ":" + buf.String()
}

// Equal reports whether two actions have the same key.
func (a Action) Equal(other Action) bool { return a.Key() == other.Key() }

// ArgsMap decodes the serialized arguments into a generic map.
func (a Action) ArgsMap() (map[string]any, error) {
	args := map[string]any{}
	if len(a.Arguments) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(a.Arguments, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// String implements fmt.Stringer.
func (a Action) String() string {
	if a.IsZero() {
		return "<root>"
	}
	return a.Key()
}
