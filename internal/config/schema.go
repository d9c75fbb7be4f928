package config

// Config is the top-level YAML structure.
type Config struct {
	Version string     `yaml:"version"`
	Engine  EngineConf `yaml:"engine"`
	Design  Design     `yaml:"design"`
}

// EngineConf holds tunable scheduling settings. Environment variables
// override values read from the file.
type EngineConf struct {
	// ExecutionLimit caps the number of node executions in flight.
	ExecutionLimit int `yaml:"execution_limit" env:"NODEFLOW_EXECUTION_LIMIT"`
	// NodeTimeoutMs bounds the context passed to a node. 0 disables it.
	NodeTimeoutMs int `yaml:"node_timeout_ms" env:"NODEFLOW_NODE_TIMEOUT_MS"`
	// AllowCycles turns off cycle rejection in the graph. The scheduler
	// never resolves cycles; nodes on one stay pending.
	AllowCycles bool `yaml:"allow_cycles" env:"NODEFLOW_ALLOW_CYCLES"`
	// CommandQueue is the buffer size of the engine's command channel.
	CommandQueue int `yaml:"command_queue" env:"NODEFLOW_COMMAND_QUEUE"`
}

// Design is the set of nodes and links to instantiate.
type Design struct {
	Nodes []NodeDef `yaml:"nodes"`
	Links []LinkDef `yaml:"links"`
}

// NodeDef declares one node instance.
type NodeDef struct {
	ID         string         `yaml:"id" json:"id"`
	Type       string         `yaml:"type" json:"type"`
	Properties map[string]any `yaml:"properties" json:"properties,omitempty"`
	// Executed marks a node restored from a prior successful run.
	Executed bool `yaml:"executed" json:"executed,omitempty"`
}

// Endpoint names a node port.
type Endpoint struct {
	Node string `yaml:"node" json:"node"`
	Port string `yaml:"port" json:"port"`
}

// LinkDef declares one link between two ports.
type LinkDef struct {
	ID   string   `yaml:"id" json:"id"`
	From Endpoint `yaml:"from" json:"from"`
	To   Endpoint `yaml:"to" json:"to"`
}
